package main

import (
	"net/url"

	"github.com/spf13/cobra"
)

var collectionsCmd = &cobra.Command{
	Use:   "collections",
	Short: "Manage vector collections",
}

var (
	createDenseSize int
	createDistance  string
)

var collectionsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a collection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := map[string]any{
			"name":       args[0],
			"dense_size": createDenseSize,
			"distance":   createDistance,
		}
		var resp map[string]any
		if err := doRequest("POST", "/admin/collections/create", nil, req, &resp); err != nil {
			return err
		}
		printJSON(resp)
		return nil
	},
}

var collectionsDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a collection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q := url.Values{"name": {args[0]}}
		var resp map[string]any
		if err := doRequest("POST", "/admin/collections/delete", q, nil, &resp); err != nil {
			return err
		}
		printJSON(resp)
		return nil
	},
}

var collectionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List collections",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp map[string]any
		if err := doRequest("GET", "/admin/collections/list", nil, nil, &resp); err != nil {
			return err
		}
		printJSON(resp)
		return nil
	},
}

func init() {
	collectionsCreateCmd.Flags().IntVar(&createDenseSize, "dense-size", 768, "dense vector dimension")
	collectionsCreateCmd.Flags().StringVar(&createDistance, "distance", "cosine", "distance metric (cosine, dot, euclid)")
}
