package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/codebuildervaibhav/media-transcriber/internal/storage"
	"github.com/codebuildervaibhav/media-transcriber/internal/types"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect jobs in the job store",
	}
	jobsCmd.AddCommand(newJobsListCommand(ctx))
	jobsCmd.AddCommand(newJobsShowCommand(ctx))
	return jobsCmd
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(ctx, func(store *storage.JobStore) error {
				jobs, err := store.List(cmd.Context(), limit)
				if err != nil {
					return err
				}
				printJobs(cmd.OutOrStdout(), jobs)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of jobs")
	return cmd
}

func newJobsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one job with its transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(ctx, func(store *storage.JobStore) error {
				job, err := store.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				printJob(cmd.OutOrStdout(), job)
				return nil
			})
		},
	}
}

func withStore(ctx *commandContext, fn func(*storage.JobStore) error) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	store, err := storage.NewJobStore(cfg.Storage.Database)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

func printJobs(out io.Writer, jobs []*types.Job) {
	if len(jobs) == 0 {
		fmt.Fprintln(out, "No jobs")
		return
	}
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		rows = append(rows, []string{
			job.ID,
			string(job.Status),
			job.Provider,
			truncate(job.URL, 48),
			job.CreatedAt.Local().Format("2006-01-02 15:04"),
		})
	}
	fmt.Fprintln(out, renderTable([]string{"ID", "Status", "Provider", "URL", "Created"}, rows))
}

func printJob(out io.Writer, job *types.Job) {
	fmt.Fprintf(out, "ID:       %s\n", job.ID)
	fmt.Fprintf(out, "URL:      %s\n", job.URL)
	fmt.Fprintf(out, "Provider: %s", job.Provider)
	if job.Model != "" {
		fmt.Fprintf(out, " (%s)", job.Model)
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Status:   %s\n", job.Status)
	if job.ProviderTaskHandle != "" {
		fmt.Fprintf(out, "Task:     %s\n", job.ProviderTaskHandle)
	}
	fmt.Fprintf(out, "Updated:  %s\n", job.UpdatedAt.Local().Format(time.RFC3339))
	if job.Error != "" {
		fmt.Fprintf(out, "Error:    %s\n", job.Error)
	}
	if text := storage.TranscriptText(job); text != "" {
		fmt.Fprintf(out, "\n%s\n", text)
	}
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}
