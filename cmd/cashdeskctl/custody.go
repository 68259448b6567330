package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"cashdesk/internal/config"
	"cashdesk/internal/infra"
	"cashdesk/internal/repository"
	"cashdesk/internal/service"

	"github.com/spf13/cobra"
)

func newCustodyCommand(d deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "custody",
		Short: "Inspect the legal custody registry",
	}

	var storeID string
	var limit int
	due := &cobra.Command{
		Use:   "due",
		Short: "List custody records of a store whose hold period has elapsed",
		Long: `List records still in CUSTODY whose end date has passed, oldest first.
Records with an open incident are never listed.

Example:
  cashdeskctl custody due --store store-01 --limit 50`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := d.loadConfig()
			if err != nil {
				return err
			}
			loc, err := cfg.Location()
			if err != nil {
				return err
			}
			svc, err := d.custody(cfg)
			if err != nil {
				return err
			}
			records, err := svc.Due(context.Background(), storeID, limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCLIENT\tITEMS\tEND DATE")
			for _, r := range records {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", r.ID, r.ClientID, len(r.ItemIDs), r.CustodyEndDate.In(loc).Format("2006-01-02"))
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d record(s) ready for release\n", len(records))
			return nil
		},
	}
	due.Flags().StringVar(&storeID, "store", "", "store identifier (required)")
	_ = due.MarkFlagRequired("store")
	due.Flags().IntVar(&limit, "limit", 100, "maximum records to list")

	cmd.AddCommand(due)
	return cmd
}

func openCustody(cfg *config.Config) (service.CustodyService, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	db, err := infra.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	return service.NewCustodyService(
		repository.NewCajaRepository(db),
		repository.NewCustodyRepository(db),
		service.WithLocation(loc),
	), nil
}
