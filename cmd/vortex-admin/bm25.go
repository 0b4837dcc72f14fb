package main

import "github.com/spf13/cobra"

var bm25Cmd = &cobra.Command{
	Use:   "bm25",
	Short: "Manage the BM25 sparse encoder",
}

var bm25RetrainCmd = &cobra.Command{
	Use:   "retrain",
	Short: "Dispatch a BM25 retrain job, subject to the server's cooldown",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp map[string]any
		if err := doRequest("POST", "/admin/bm25/retrain", nil, nil, &resp); err != nil {
			return err
		}
		printJSON(resp)
		return nil
	},
}
