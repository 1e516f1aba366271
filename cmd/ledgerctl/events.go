package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmerrifield20/projectledger/pkg/client"
)

// errChainBroken makes `verify` exit non-zero without printing usage.
var errChainBroken = errors.New("chain integrity check failed")

func newClient() (*client.Client, error) {
	opts := []client.Option{client.WithConflictRetries(3, 200*time.Millisecond)}
	if authToken != "" {
		opts = append(opts, client.WithToken(authToken))
	}
	if actorID != "" {
		opts = append(opts, client.WithActor(actorID))
	}
	return client.New(serverURL, opts...)
}

// ── append ───────────────────────────────────────────────────────────────────

func newAppendCmd() *cobra.Command {
	var dataJSON string
	cmd := &cobra.Command{
		Use:   "append <project-id> <event-type>",
		Short: "Append an event to a project's ledger",
		Long: `Append records a new event at the end of the project's chain.

  ledgerctl append bridge-42 PROGRESS_UPDATE --data '{"progress": 25}'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data any
			if err := json.Unmarshal([]byte(dataJSON), &data); err != nil {
				return fmt.Errorf("--data is not valid JSON: %w", err)
			}
			c, err := newClient()
			if err != nil {
				return err
			}
			ev, err := c.CreateEvent(cmd.Context(), args[0], args[1], data)
			if err != nil {
				return fmt.Errorf("append: %w", err)
			}
			fmt.Fprintf(out(cmd), "appended %s #%d %s\n", ev.ProjectID, ev.Seq, ev.CurrentHash)
			return nil
		},
	}
	cmd.Flags().StringVar(&dataJSON, "data", "{}", "event payload as a JSON object")
	return cmd
}

// ── timeline ─────────────────────────────────────────────────────────────────

func newTimelineCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "timeline <project-id>",
		Short: "Print a project's events, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			events, err := c.Timeline(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("timeline: %w", err)
			}
			return printTimeline(cmd, events, format)
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "Output format: text or json")
	return cmd
}

func printTimeline(cmd *cobra.Command, events []client.Event, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(out(cmd))
		enc.SetIndent("", "  ")
		return enc.Encode(events)
	case "text":
		if len(events) == 0 {
			fmt.Fprintln(out(cmd), "no events")
			return nil
		}
		w := tabwriter.NewWriter(out(cmd), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SEQ\tTIMESTAMP\tTYPE\tACTOR\tDATA\tHASH")
		for _, e := range events {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n", e.Seq, e.Timestamp, e.EventType, e.CreatedBy, string(e.Data), shortHash(e.CurrentHash))
		}
		return w.Flush()
	default:
		return fmt.Errorf("unknown format %q (want text or json)", format)
	}
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

// ── verify ───────────────────────────────────────────────────────────────────

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <project-id>",
		Short: "Check that a project's history has not been altered",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			res, err := c.Verify(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("verify: %w", err)
			}
			return reportVerify(cmd, args[0], res)
		},
	}
}

func reportVerify(cmd *cobra.Command, projectID string, res *client.VerifyResult) error {
	if res.Valid {
		fmt.Fprintf(out(cmd), "%s: valid (%d events, tip %s)\n", projectID, res.Checked, shortHash(res.Tip))
		return nil
	}
	fmt.Fprintf(out(cmd), "%s: BROKEN at event %s (seq %d): %s\n", projectID, res.BrokenAt, res.BrokenSeq, res.Reason)
	return errChainBroken
}

// withTimeout bounds a command that has no natural deadline.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, d)
}
