package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/soyeahso/mailroom/internal/config"
	"github.com/soyeahso/mailroom/internal/gateway"
	"github.com/soyeahso/mailroom/internal/jobqueue"
	"github.com/soyeahso/mailroom/internal/notify"
)

func newServeCmd() *cobra.Command {
	var (
		port    int
		bind    string
		noPoll  bool
		noNotif bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway, the mailbox poller and the IRC notifier",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if port != 0 {
				cfg.Gateway.Port = port
			}
			if bind != "" {
				cfg.Gateway.Bind = bind
			}

			// Block until SIGINT/SIGTERM
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()

			// Load raw config for RPC access
			raw, err := config.LoadRaw(paths.Config)
			if err != nil {
				raw = make(map[string]any)
			}

			srv := gateway.New(cfg, a.runner, log,
				gateway.WithConfigRaw(raw),
				gateway.WithHooks(a.hooks),
				gateway.WithMemory(a.backends.Memory),
			)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return srv.Start(gctx) })

			if cfg.Notify.IRC != nil && !noNotif {
				irc := notify.NewIRC(*cfg.Notify.IRC, a.runner, log)
				unregister := irc.Register(a.hooks)
				g.Go(func() error {
					defer irc.Stop()
					defer unregister()
					return ignoreCanceled(irc.Start(gctx))
				})
			}

			if a.mailbox != nil && cfg.Mailbox.PollSeconds > 0 && !noPoll {
				sink, stopSink, err := openSink(gctx, a)
				if err != nil {
					return err
				}
				defer stopSink()

				interval := time.Duration(cfg.Mailbox.PollSeconds) * time.Second
				poller := jobqueue.NewPoller(a.mailbox, sink, cfg.Mailbox.MaxFetch, interval, log)
				g.Go(func() error { return poller.Run(gctx) })
			} else {
				log.Info().Msg("mailbox polling disabled")
			}
			log.Debug().Strs("events", a.hooks.Events()).Msg("hook subscribers wired")

			return ignoreCanceled(g.Wait())
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override gateway port")
	cmd.Flags().StringVar(&bind, "bind", "", "override bind mode (loopback, lan, custom)")
	cmd.Flags().BoolVar(&noPoll, "no-poll", false, "do not poll the mailbox")
	cmd.Flags().BoolVar(&noNotif, "no-notify", false, "do not connect the IRC notifier")

	return cmd
}

// openSink returns where polled mail is submitted: the in-process worker
// pool, or River when queue.backend is "river". The returned func stops
// the River workers.
func openSink(ctx context.Context, a *app) (jobqueue.Submitter, func(), error) {
	if a.cfg.Queue.Backend != "river" {
		return jobqueue.NewPool(a.runner, a.cfg.Queue.Workers, log), func() {}, nil
	}
	if a.backends.PG == nil {
		return nil, nil, errors.New("queue.backend river requires storage.backend postgres")
	}

	pool := a.backends.PG.Pool()
	if err := jobqueue.Migrate(ctx, pool); err != nil {
		return nil, nil, err
	}
	q, err := jobqueue.NewRiverQueue(pool, a.runner, a.cfg.Queue.Workers, log)
	if err != nil {
		return nil, nil, err
	}
	if err := q.Start(ctx); err != nil {
		return nil, nil, fmt.Errorf("starting river workers: %w", err)
	}
	return q, func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := q.Stop(stopCtx); err != nil {
			log.Warn().Err(err).Msg("stopping river workers")
		}
	}, nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
