package ctl

import (
	"fmt"
	"text/tabwriter"

	"github.com/cloudstorm/backend/internal/models"
	"github.com/cloudstorm/backend/internal/services"
	"github.com/spf13/cobra"
)

func newJobsCommand(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and recover enrichment jobs",
	}
	cmd.AddCommand(newJobsRecoverCommand(rt))
	cmd.AddCommand(newJobsListCommand(rt))
	return cmd
}

func newJobsRecoverCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Return stuck processing jobs to pending",
		Long: `Return jobs that have been processing for longer than
ENRICHMENT_STALE_AFTER to pending. A running server picks them up on its
next recovery pass.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reset, err := services.ResetStaleJobs(cmd.Context(), rt.db, rt.cfg.Enrichment.StaleAfter)
			if err != nil {
				return fmt.Errorf("recovering jobs: %w", err)
			}
			if rt.json {
				return printJSON(cmd.OutOrStdout(), map[string]int{"recovered": reset})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Recovered %d job(s)\n", reset)
			return nil
		},
	}
}

func newJobsListCommand(rt *runtime) *cobra.Command {
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent enrichment jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			query := rt.db.WithContext(cmd.Context()).Order("created_at DESC").Limit(limit)
			if status != "" {
				query = query.Where("status = ?", status)
			}
			var jobs []models.EnrichmentJob
			if err := query.Find(&jobs).Error; err != nil {
				return fmt.Errorf("listing jobs: %w", err)
			}

			out := cmd.OutOrStdout()
			if rt.json {
				return printJSON(out, jobs)
			}
			if len(jobs) == 0 {
				fmt.Fprintln(out, "No jobs found.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tFILE\tKIND\tSTATUS\tATTEMPTS")
			for _, j := range jobs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\n", j.ID, j.FileID, j.Kind, j.Status, j.Attempts, j.MaxAttempts)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (pending, processing, completed, failed)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum jobs to show")
	return cmd
}
