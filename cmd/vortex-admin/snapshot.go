package main

import (
	"net/url"

	"github.com/spf13/cobra"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Manage collection snapshots",
}

var snapshotCreateCmd = &cobra.Command{
	Use:   "create <collection>",
	Short: "Dispatch a snapshot job for a collection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := map[string]any{"collection": args[0]}
		var resp map[string]any
		if err := doRequest("POST", "/admin/snapshot/create", nil, req, &resp); err != nil {
			return err
		}
		printJSON(resp)
		return nil
	},
}

var snapshotListCmd = &cobra.Command{
	Use:   "list <collection>",
	Short: "List snapshots for a collection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q := url.Values{"collection": {args[0]}}
		var resp map[string]any
		if err := doRequest("GET", "/admin/snapshot/list", q, nil, &resp); err != nil {
			return err
		}
		printJSON(resp)
		return nil
	},
}

var snapshotRestoreSource string

var snapshotRestoreCmd = &cobra.Command{
	Use:   "restore <collection>",
	Short: "Restore a collection from a snapshot path",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := map[string]any{"collection": args[0], "source_path": snapshotRestoreSource}
		var resp map[string]any
		if err := doRequest("POST", "/admin/snapshot/restore", nil, req, &resp); err != nil {
			return err
		}
		printJSON(resp)
		return nil
	},
}

var snapshotDeleteCmd = &cobra.Command{
	Use:   "delete <collection>",
	Short: "Delete a collection's snapshots",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q := url.Values{"collection": {args[0]}}
		var resp map[string]any
		if err := doRequest("POST", "/admin/snapshot/delete", q, nil, &resp); err != nil {
			return err
		}
		printJSON(resp)
		return nil
	},
}

func init() {
	snapshotRestoreCmd.Flags().StringVar(&snapshotRestoreSource, "source", "", "snapshot source path (required)")
	_ = snapshotRestoreCmd.MarkFlagRequired("source")
}
