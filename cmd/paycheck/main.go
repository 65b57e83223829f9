package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/josh-kwaku/wallet-reconciler/internal/client"
	"github.com/josh-kwaku/wallet-reconciler/internal/domain"
	"github.com/josh-kwaku/wallet-reconciler/internal/logging"
	"github.com/josh-kwaku/wallet-reconciler/internal/poller"
)

var Version = "dev"

type options struct {
	apiURL   string
	token    string
	timeout  time.Duration
	jsonOut  bool
	logLevel string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "paycheck",
		Short:         "Check wallet funding payments and trigger manual reconciliation",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.apiURL, "api-url", envOr("PAYCHECK_API_URL", "http://localhost:8080"), "funding API base URL")
	root.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("PAYCHECK_TOKEN"), "Bearer token for the paying user")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 15*time.Second, "per-request timeout")
	root.PersistentFlags().BoolVarP(&opts.jsonOut, "json", "j", false, "print JSON")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level")

	root.AddCommand(statusCmd(opts), watchCmd(opts), fallbackCmd(opts))
	return root
}

func statusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status <reference>",
		Short: "Print the stored state of a payment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(opts.apiURL, opts.token, opts.timeout)
			intent, err := c.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printIntent(cmd.OutOrStdout(), intent, opts.jsonOut)
		},
	}
}

func watchCmd(opts *options) *cobra.Command {
	var (
		attempts int
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch <reference>",
		Short: "Poll a payment until it settles, then fall back to manual reconciliation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.New(cmd.ErrOrStderr(), "paycheck", opts.logLevel, "development")
			c := client.New(opts.apiURL, opts.token, opts.timeout)

			p := poller.New(c, attempts, interval, logger)
			out := cmd.OutOrStdout()
			if !opts.jsonOut {
				p.OnTransition = func(from, to poller.State, n int) {
					fmt.Fprintf(out, "%s -> %s after %d checks\n", from, to, n)
				}
			}

			res, err := p.Run(cmd.Context(), args[0])
			if err != nil {
				if client.IsRetryable(err) {
					return fmt.Errorf("%w (retry with: paycheck fallback %s)", err, args[0])
				}
				return err
			}
			return printOutcome(out, res, opts.jsonOut)
		},
	}

	cmd.Flags().IntVarP(&attempts, "attempts", "n", 10, "status checks before falling back")
	cmd.Flags().DurationVarP(&interval, "interval", "i", 3*time.Second, "wait between status checks")
	return cmd
}

func fallbackCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "fallback <reference>",
		Short: "Ask the server to verify a payment with the gateway now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(opts.apiURL, opts.token, opts.timeout)
			res, err := c.Fallback(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), res, opts.jsonOut)
		},
	}
}

func printIntent(w io.Writer, p *domain.PaymentIntent, asJSON bool) error {
	if asJSON {
		return writeJSON(w, map[string]any{
			"reference":      p.Reference,
			"status":         p.Status,
			"amount":         p.Amount,
			"currency":       p.Currency,
			"failure_reason": p.FailureReason,
			"credited_at":    p.CreditedAt,
		})
	}

	fmt.Fprintf(w, "reference: %s\nstatus:    %s\namount:    %d %s\n", p.Reference, p.Status, p.Amount, p.Currency)
	if p.FailureReason != nil {
		fmt.Fprintf(w, "reason:    %s\n", *p.FailureReason)
	}
	if p.CreditedAt != nil {
		fmt.Fprintf(w, "credited:  %s\n", p.CreditedAt.Format(time.RFC3339))
	}
	return nil
}

func printResult(w io.Writer, r domain.ReconcileResult, asJSON bool) error {
	if asJSON {
		return writeJSON(w, map[string]any{
			"reference": r.Reference,
			"outcome":   r.Outcome,
			"amount":    r.Amount,
			"reason":    r.Reason,
			"settled":   r.Settled(),
		})
	}

	fmt.Fprintf(w, "reference: %s\noutcome:   %s\n", r.Reference, r.Outcome)
	if r.Settled() {
		fmt.Fprintf(w, "amount:    %d\n", r.Amount)
	}
	if r.Reason != "" {
		fmt.Fprintf(w, "reason:    %s\n", r.Reason)
	}
	return nil
}

func printOutcome(w io.Writer, o poller.Outcome, asJSON bool) error {
	if o.Result != nil {
		return printResult(w, *o.Result, asJSON)
	}
	return printIntent(w, o.Intent, asJSON)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
