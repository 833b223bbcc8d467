package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fortressi/reliable/idempotency"
)

// recordView is the printed form of a record.
type recordView struct {
	Key       string          `json:"key"`
	State     string          `json:"state"`
	Value     json.RawMessage `json:"value,omitempty"`
	Error     string          `json:"error,omitempty"`
	InputHash string          `json:"input_hash,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
}

func newRecordView(rec *idempotency.Record[json.RawMessage]) recordView {
	view := recordView{
		Key:       rec.Key,
		State:     rec.State.String(),
		InputHash: rec.InputHash,
		CreatedAt: rec.CreatedAt,
	}
	if rec.IsCompleted() && len(rec.Value) > 0 {
		view.Value = rec.Value
	}
	if rec.Err != nil {
		view.Error = rec.Err.Error()
	}
	if !rec.ExpiresAt.IsZero() {
		at := rec.ExpiresAt
		view.ExpiresAt = &at
	}
	return view
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get KEY",
		Short: "Show the idempotency record stored for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openRecordStore(ctx, a.cfg.Store)
			if err != nil {
				return err
			}
			defer store.Close()

			rec, err := store.Get(ctx, args[0])
			if err != nil {
				return err
			}
			if rec == nil {
				return fmt.Errorf("no record for key %q", args[0])
			}
			return printJSON(cmd, newRecordView(rec))
		},
	}
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete KEY...",
		Short: "Delete idempotency records so the next call executes again",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openRecordStore(ctx, a.cfg.Store)
			if err != nil {
				return err
			}
			defer store.Close()

			for _, key := range args {
				deleted, err := store.Delete(ctx, key)
				if err != nil {
					return err
				}
				a.logger.Info("delete record", zap.String("key", key), zap.Bool("deleted", deleted))
				if deleted {
					fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", key)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "not found %s\n", key)
				}
			}
			return nil
		},
	}
}

func newPurgeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Remove expired idempotency records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openRecordStore(ctx, a.cfg.Store)
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := store.purge(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d expired records\n", n)
			return nil
		},
	}
}

func newMigrateCmd(a *app) *cobra.Command {
	var printOnly bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the idempotency table for SQL stores",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openRecordStore(ctx, a.cfg.Store)
			if err != nil {
				return err
			}
			defer store.Close()

			if store.migrate == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "driver %s has no schema\n", a.cfg.Store.Driver)
				return nil
			}
			if printOnly {
				for _, stmt := range store.schema() {
					fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(stmt)+";")
				}
				return nil
			}
			if err := store.migrate(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema ready for table %s\n", a.cfg.Store.Table)
			return nil
		},
	}
	cmd.Flags().BoolVar(&printOnly, "print", false, "print the DDL instead of applying it")
	return cmd
}
