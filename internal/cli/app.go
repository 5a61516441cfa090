package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/soyeahso/mailroom/internal/agent"
	"github.com/soyeahso/mailroom/internal/config"
	"github.com/soyeahso/mailroom/internal/hooks"
	"github.com/soyeahso/mailroom/internal/llm"
	"github.com/soyeahso/mailroom/internal/mailbox"
	"github.com/soyeahso/mailroom/internal/store"
	"github.com/soyeahso/mailroom/internal/tools"
)

// app is the runtime every workflow command is built from.
type app struct {
	cfg      config.Config
	hooks    *hooks.Manager
	backends *store.Backends
	mailbox  mailbox.Mailbox // nil when no mailbox is configured
	runner   *agent.Runner
}

// loadConfig loads and validates the config file.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(paths.Config)
	if err != nil {
		return cfg, err
	}
	if issues := config.Validate(&cfg); len(issues) > 0 {
		for _, issue := range issues {
			log.Error().Str("path", issue.Path).Msg(issue.Message)
		}
		return cfg, fmt.Errorf("config validation failed with %d issue(s)", len(issues))
	}
	return cfg, nil
}

// openApp wires storage, the mailbox, the model client, the tool registry
// and the runner from cfg. The caller must close the app.
func openApp(ctx context.Context, cfg config.Config) (*app, error) {
	if err := paths.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("creating state directories: %w", err)
	}

	a := &app{cfg: cfg, hooks: hooks.NewManager(log)}

	var err error
	a.backends, err = store.OpenBackends(ctx, cfg.Storage, paths, log)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	a.mailbox, err = mailbox.Open(ctx, cfg.Mailbox, paths, log)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("opening mailbox: %w", err)
	}

	client, err := llm.NewClientFromConfig(ctx, cfg.Model, log)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("building model client: %w", err)
	}
	if cfg.Model.RequestsPerSecond > 0 {
		client = llm.NewRateLimited(client, cfg.Model.RequestsPerSecond, cfg.Model.Burst)
	}

	registry, err := a.buildTools(ctx)
	if err != nil {
		a.close()
		return nil, err
	}

	deps := agent.Deps{
		Client:      client,
		Tools:       registry,
		Memory:      a.backends.Memory,
		Checkpoints: a.backends.Checkpoints,
		Hooks:       a.hooks,
	}
	if a.mailbox != nil {
		deps.Mailbox = a.mailbox
	}
	a.runner, err = agent.NewRunner(deps, agent.Options{
		MaxSteps:    cfg.Workflow.MaxSteps,
		MaxTokens:   cfg.Model.MaxTokens,
		Temperature: cfg.Model.Temperature,
	}, log)
	if err != nil {
		a.close()
		return nil, err
	}

	log.Info().
		Str("storage", cfg.Storage.Backend).
		Str("model", client.Name()).
		Str("mode", string(registry.Mode())).
		Str("toolset", cfg.Workflow.Toolset).
		Msg("workflow ready")
	return a, nil
}

// buildTools returns the configured toolset. The gmail toolset sends and
// searches through Gmail and books through Google Calendar, whatever
// mailbox the mail is read from.
func (a *app) buildTools(ctx context.Context) (*tools.Registry, error) {
	mode := tools.Mode(a.cfg.Workflow.Mode)
	if a.cfg.Workflow.Toolset != "gmail" {
		return tools.Build(mode, a.cfg.Workflow.Toolset, nil)
	}

	httpClient, err := mailbox.GoogleHTTPClient(ctx, a.cfg.Mailbox.Gmail, paths)
	if err != nil {
		return nil, fmt.Errorf("gmail toolset: %w", err)
	}
	gm, ok := a.mailbox.(*mailbox.Gmail)
	if !ok {
		svc, err := mailbox.NewGmailService(ctx, httpClient)
		if err != nil {
			return nil, err
		}
		gm = mailbox.NewGmail(svc, a.cfg.Mailbox.Gmail.Query, log)
	}
	cal, err := mailbox.NewCalendarService(ctx, httpClient)
	if err != nil {
		return nil, err
	}
	return tools.Build(mode, "gmail", &tools.GmailDeps{
		Sender:     gm,
		Searcher:   gm,
		Calendar:   cal,
		CalendarID: a.cfg.Mailbox.Gmail.Calendar,
		Location:   time.Local,
	})
}

func (a *app) close() {
	a.hooks.Wait()
	if err := a.backends.Close(); err != nil {
		log.Warn().Err(err).Msg("closing storage")
	}
}

// withApp loads the config, opens the app, runs fn and closes the app.
func withApp(ctx context.Context, fn func(*app) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(a)
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printOutcome prints an outcome. A failed outcome is printed and also
// returned as an error so the exit status reflects it.
func printOutcome(out *agent.Outcome, err error) error {
	if out != nil {
		if perr := printJSON(out); perr != nil {
			return perr
		}
	}
	if err != nil {
		return err
	}
	if out != nil && out.Error != "" {
		return errors.New(out.Error)
	}
	return nil
}
