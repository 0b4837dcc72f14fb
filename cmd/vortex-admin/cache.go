package main

import "github.com/spf13/cobra"

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the semantic query cache",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear the semantic cache",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp map[string]any
		if err := doRequest("POST", "/admin/cache/clear", nil, nil, &resp); err != nil {
			return err
		}
		printJSON(resp)
		return nil
	},
}

var resetDBCmd = &cobra.Command{
	Use:   "reset-db",
	Short: "Delete every collection in the gateway's backing store",
	Long:  `reset-db deletes every collection the gateway knows about. Irreversible; intended for test and staging environments only.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp map[string]any
		if err := doRequest("POST", "/admin/reset_db", nil, nil, &resp); err != nil {
			return err
		}
		printJSON(resp)
		return nil
	},
}
