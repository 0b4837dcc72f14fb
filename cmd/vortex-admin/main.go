// Package main implements the vortex-admin CLI for operator actions against
// a running vortexd gateway: collection lifecycle, snapshots, BM25 retrain,
// cache clearing, and job inspection.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// serverURL is the base URL for the vortexd gateway.
	serverURL string
	// token is the bearer token sent as Authorization: Bearer <token>.
	// Must carry the admin role; mint one via POST /auth/login.
	token string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "vortex-admin",
	Short:   "CLI for vortexd gateway administration",
	Long:    `vortex-admin is a command-line interface for administrative operations against the vortexd hybrid search gateway: collections, snapshots, BM25 retraining, cache clearing, and job status.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "vortexd gateway URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("VORTEX_ADMIN_TOKEN"), "admin bearer token (default: $VORTEX_ADMIN_TOKEN)")

	rootCmd.AddCommand(collectionsCmd)
	collectionsCmd.AddCommand(collectionsCreateCmd, collectionsDeleteCmd, collectionsListCmd)

	rootCmd.AddCommand(snapshotCmd)
	snapshotCmd.AddCommand(snapshotCreateCmd, snapshotListCmd, snapshotRestoreCmd, snapshotDeleteCmd)

	rootCmd.AddCommand(bm25Cmd)
	bm25Cmd.AddCommand(bm25RetrainCmd)

	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheClearCmd)

	rootCmd.AddCommand(resetDBCmd)
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsStatusCmd, jobsListCmd)
}
