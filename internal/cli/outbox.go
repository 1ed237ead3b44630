package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/devrev/querysync/internal/client"
	"github.com/devrev/querysync/internal/config"
	"github.com/devrev/querysync/internal/metrics"
	"github.com/devrev/querysync/internal/model"
	"github.com/devrev/querysync/internal/service"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// NewOutboxCommand creates the outbox command group.
func NewOutboxCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect and drain the primary's outbox",
		Long: `Operations committed on the primary but not yet applied on the secondary
wait in the outbox when forwarding.mode is "outbox". These commands read the
primary's configuration to find its store.`,
	}

	cmd.AddCommand(newOutboxListCommand(rootOpts))
	cmd.AddCommand(newOutboxReplayCommand(rootOpts))
	return cmd
}

// EntryOutput is the printed form of an outbox entry.
type EntryOutput struct {
	EntryID       string    `json:"entry_id"`
	Operation     string    `json:"operation"`
	QueryID       int64     `json:"query_id"`
	Content       string    `json:"content,omitempty"`
	Attempts      int       `json:"attempts"`
	LastError     string    `json:"last_error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	NextAttemptAt time.Time `json:"next_attempt_at"`
}

func newOutboxListCommand(rootOpts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pending outbox entries, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(rootOpts.ConfigPath, config.RolePrimary)
			if err != nil {
				return err
			}

			st, err := openStore(cmd.Context(), cfg.Store, zap.NewNop())
			if err != nil {
				return fmt.Errorf("failed to open store: %w", err)
			}
			defer st.Close()

			entries, err := st.ListEntries(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("failed to list outbox: %w", err)
			}
			return writeEntries(cmd.OutOrStdout(), rootOpts.Format, entries)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 100, "maximum entries to list (0 for all)")
	return cmd
}

func newOutboxReplayCommand(rootOpts *RootOptions) *cobra.Command {
	var untilEmpty bool

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay due outbox entries on the secondary now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(rootOpts.ConfigPath, config.RolePrimary)
			if err != nil {
				return err
			}

			logger, _, err := config.NewLogger(cfg.Logging)
			if err != nil {
				return err
			}
			defer logger.Sync()

			st, err := openStore(cmd.Context(), cfg.Store, logger)
			if err != nil {
				return fmt.Errorf("failed to open store: %w", err)
			}
			defer st.Close()

			secondary := client.NewSecondaryClient(cfg.Secondary.URL, cfg.Secondary.Timeout, logger)
			defer secondary.Close()

			replay := newReplayService(cfg, st, secondary, metrics.NewMetrics(), logger)
			defer replay.Stop(cfg.Server.ShutdownTimeout)

			var total service.ReplayStats
			for {
				stats, err := replay.ReplayOnce(cmd.Context())
				if err != nil {
					return err
				}
				total.Replicated += stats.Replicated
				total.Retried += stats.Retried
				total.Dropped += stats.Dropped
				if !untilEmpty || stats.Replicated == 0 {
					break
				}
			}

			remaining, err := st.CountEntries(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to count outbox: %w", err)
			}
			return writeReplayStats(cmd.OutOrStdout(), rootOpts.Format, total, remaining)
		},
	}

	cmd.Flags().BoolVar(&untilEmpty, "until-empty", false, "keep replaying batches while entries succeed")
	return cmd
}

func writeEntries(w io.Writer, format string, entries []*model.OutboxEntry) error {
	out := make([]EntryOutput, 0, len(entries))
	for _, e := range entries {
		out = append(out, EntryOutput{
			EntryID:       e.EntryID,
			Operation:     string(e.Operation),
			QueryID:       e.QueryID,
			Content:       e.Content,
			Attempts:      e.Attempts,
			LastError:     e.LastError,
			CreatedAt:     e.CreatedAt.UTC(),
			NextAttemptAt: e.NextAttemptAt.UTC(),
		})
	}

	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	if len(out) == 0 {
		_, err := fmt.Fprintln(w, "outbox is empty")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ENTRY\tOPERATION\tQUERY\tATTEMPTS\tNEXT ATTEMPT\tLAST ERROR")
	for _, e := range out {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\n",
			e.EntryID, e.Operation, e.QueryID, e.Attempts, e.NextAttemptAt.Format(time.RFC3339), e.LastError)
	}
	return tw.Flush()
}

func writeReplayStats(w io.Writer, format string, stats service.ReplayStats, remaining int64) error {
	if format == "json" {
		return json.NewEncoder(w).Encode(map[string]interface{}{
			"replicated": stats.Replicated,
			"retried":    stats.Retried,
			"dropped":    stats.Dropped,
			"remaining":  remaining,
		})
	}
	_, err := fmt.Fprintf(w, "replicated: %d\nretried: %d\ndropped: %d\nremaining: %d\n",
		stats.Replicated, stats.Retried, stats.Dropped, remaining)
	return err
}
