package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/antoniostano/streamchat/internal/app"
	"github.com/antoniostano/streamchat/internal/assembly"
	"github.com/antoniostano/streamchat/internal/policy"
)

var (
	askUser    string
	askApprove bool
	askJSON    bool
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Run one turn and print the answer as it is revealed",
	Long: `Ask submits a single question to the configured generation backend and
prints the answer at the reveal pace. Ctrl-C stops generation and keeps what
has been received so far.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("config error: %w", err)
		}
		if !verbose {
			cfg.LogLevel = "warn"
		}
		question := strings.Join(args, " ")

		if cfg.PreflightEnabled && !askApprove {
			if report := policy.Scan(question); report.HasWarning {
				for _, d := range report.Detections {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s detected (%d)\n", d.Label, d.Count)
				}
				return fmt.Errorf("question contains sensitive data; rerun with --approve to send it anyway")
			}
		}

		res, err := app.Build(context.Background(), cfg, app.Options{LogOutput: cmd.ErrOrStderr()})
		if err != nil {
			return err
		}
		defer func() { _ = res.Cleanup() }()

		conv := res.Sessions.Create(askUser)
		out := cmd.OutOrStdout()
		printer := &revealPrinter{w: out}
		if askJSON {
			printer.w = io.Discard
		}

		handle, err := res.Orchestrator.StartTurn(context.Background(), conv.ID, question, printer.sink)
		if err != nil {
			return err
		}

		sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		select {
		case <-handle.Done():
		case <-sigCtx.Done():
			// Restore default handling so a second Ctrl-C exits.
			stop()
			_ = res.Orchestrator.StopGeneration(conv.ID)
			<-handle.Done()
		}
		stop()

		turn, err := res.Orchestrator.Snapshot(conv.ID)
		if err != nil {
			return err
		}
		if askJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			if err := enc.Encode(turn); err != nil {
				return err
			}
		} else {
			printer.finish(turn)
		}
		if turn.State == assembly.StateFailed && turn.Error != nil {
			return fmt.Errorf("turn failed: %s: %s", turn.Error.Code, turn.Error.Message)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().StringVar(&askUser, "user", "cli", "User id sent to the generation service")
	askCmd.Flags().BoolVar(&askApprove, "approve", false, "Send the question even if the preflight scan warns")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "Print the final turn as JSON instead of streaming text")
}

// revealPrinter writes the newly revealed suffix of each snapshot.
type revealPrinter struct {
	mu      sync.Mutex
	w       io.Writer
	printed string
}

func (p *revealPrinter) sink(t assembly.Turn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	text := t.RevealedText()
	if suffix, ok := strings.CutPrefix(text, p.printed); ok && suffix != "" {
		fmt.Fprint(p.w, suffix)
		p.printed = text
	}
}

// finish prints whatever the reveal did not, then citations and suggestions.
func (p *revealPrinter) finish(t assembly.Turn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if suffix, ok := strings.CutPrefix(t.FinalText, p.printed); ok {
		fmt.Fprint(p.w, suffix)
	} else {
		fmt.Fprint(p.w, "\n"+t.FinalText)
	}
	p.printed = t.FinalText
	fmt.Fprintln(p.w)

	if t.State == assembly.StateCancelled {
		fmt.Fprintln(p.w, "(cancelled)")
	}
	if len(t.Citations) > 0 {
		fmt.Fprintln(p.w, "\nSources:")
		for i, c := range t.Citations {
			if c.URL != "" {
				fmt.Fprintf(p.w, "  [%d] %s (%s)\n", i+1, c.SourceLabel, c.URL)
			} else {
				fmt.Fprintf(p.w, "  [%d] %s\n", i+1, c.SourceLabel)
			}
		}
	}
	if len(t.SuggestedActions) > 0 {
		fmt.Fprintln(p.w, "\nYou could ask:")
		for _, a := range t.SuggestedActions {
			fmt.Fprintf(p.w, "  - %s\n", a.Label)
		}
	}
}
