package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fortressi/reliable"
)

func openJournalStore(a *app) (*reliable.FileJournalStore, error) {
	if a.cfg.Journal.Dir == "" {
		return nil, errors.New("journal.dir is not configured")
	}
	return reliable.NewFileJournalStore(a.cfg.Journal.Dir)
}

func newJournalCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect persisted saga journals",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List saga IDs with a stored journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openJournalStore(a)
			if err != nil {
				return err
			}
			ids, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			for _, id := range ids {
				record, err := store.Load(cmd.Context(), id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", id, record.Kind, record.Status)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show SAGA_ID",
		Short: "Print the event log of one saga execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openJournalStore(a)
			if err != nil {
				return err
			}
			record, err := store.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			journal, err := record.Journal()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "kind:   %s\nstatus: %s\n", record.Kind, record.Status)
			if record.Error != "" {
				fmt.Fprintf(out, "error:  %s\n", record.Error)
			}
			fmt.Fprintln(out)
			fmt.Fprint(out, journal.String())
			return nil
		},
	})
	return cmd
}
