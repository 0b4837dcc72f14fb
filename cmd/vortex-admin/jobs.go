package main

import (
	"net/url"

	"github.com/spf13/cobra"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect batch job status",
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Fetch a job's status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp map[string]any
		if err := doRequest("GET", "/batch/jobs/status/"+url.PathEscape(args[0]), nil, nil, &resp); err != nil {
			return err
		}
		printJSON(resp)
		return nil
	},
}

var jobsListStatusFilter string

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs, optionally filtered by status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var q url.Values
		if jobsListStatusFilter != "" {
			q = url.Values{"status": {jobsListStatusFilter}}
		}
		var resp map[string]any
		if err := doRequest("GET", "/batch/jobs/list", q, nil, &resp); err != nil {
			return err
		}
		printJSON(resp)
		return nil
	},
}

func init() {
	jobsListCmd.Flags().StringVar(&jobsListStatusFilter, "status", "", "filter by status (pending, running, completed, failed)")
}
