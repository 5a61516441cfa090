package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/soyeahso/mailroom/internal/domain"
	"github.com/soyeahso/mailroom/internal/jobqueue"
)

func newRunCmd() *cobra.Command {
	var threadID string

	cmd := &cobra.Command{
		Use:   "run <email.json>",
		Short: "Start a thread for an email read from a JSON file (- for stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := readEmail(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			if threadID == "" {
				threadID = jobqueue.ThreadIDFor(email)
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return withApp(ctx, func(a *app) error {
				return printOutcome(a.runner.Start(ctx, threadID, email))
			})
		},
	}

	cmd.Flags().StringVar(&threadID, "thread", "", "thread id (default derived from the email id)")
	return cmd
}

func readEmail(path string, stdin io.Reader) (domain.Email, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return domain.Email{}, err
	}

	var email domain.Email
	if err := json.Unmarshal(data, &email); err != nil {
		return domain.Email{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := email.Validate(); err != nil {
		return domain.Email{}, err
	}
	return email, nil
}

func newResumeCmd() *cobra.Command {
	var (
		verdict string
		rawArgs string
		text    string
	)

	cmd := &cobra.Command{
		Use:   "resume <thread>",
		Short: "Answer the review a thread is waiting on",
		Long: "Answer a pending review with accept, edit, ignore or response.\n" +
			"Edits take --args as a JSON object; responses take --text or --args.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := buildResponse(verdict, rawArgs, text)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return withApp(ctx, func(a *app) error {
				return printOutcome(a.runner.Resume(ctx, args[0], resp))
			})
		},
	}

	cmd.Flags().StringVar(&verdict, "type", "accept", "verdict type (accept, edit, ignore, response)")
	cmd.Flags().StringVar(&rawArgs, "args", "", "verdict arguments as JSON")
	cmd.Flags().StringVar(&text, "text", "", "feedback text for a response verdict")
	return cmd
}

func buildResponse(verdict, rawArgs, text string) (domain.InterruptResponse, error) {
	var resp domain.InterruptResponse
	switch {
	case rawArgs != "" && text != "":
		return resp, fmt.Errorf("--args and --text are mutually exclusive")
	case rawArgs != "":
		if !json.Valid([]byte(rawArgs)) {
			return resp, fmt.Errorf("--args is not valid JSON")
		}
		resp = domain.InterruptResponse{Type: domain.Verdict(verdict), Args: json.RawMessage(rawArgs)}
	case text != "":
		r, err := domain.NewResponse(domain.Verdict(verdict), text)
		if err != nil {
			return resp, err
		}
		resp = r
	default:
		resp = domain.InterruptResponse{Type: domain.Verdict(verdict)}
	}
	return resp, resp.Validate()
}
