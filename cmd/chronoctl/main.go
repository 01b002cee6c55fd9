package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	apiFlag    string
	ownerFlag  string
	streamFlag string
	rootCmd    = &cobra.Command{
		Use:   "chronoctl",
		Short: "CLI client for the chronologue REST API",
	}
)

func main() {
	rootCmd.PersistentFlags().StringVarP(&apiFlag, "api", "a", "http://localhost:8080", "service base URL")
	rootCmd.PersistentFlags().StringVarP(&ownerFlag, "owner", "o", "", "Owner ID")

	ownerCmd := &cobra.Command{
		Use:   "create-owner",
		Short: "Register an owner",
		RunE: func(cmd *cobra.Command, args []string) error {
			if ownerFlag == "" {
				return fmt.Errorf("--owner required")
			}
			tz, _ := cmd.Flags().GetString("timezone")
			provider, _ := cmd.Flags().GetString("provider")
			mdl, _ := cmd.Flags().GetString("model")
			dim, _ := cmd.Flags().GetInt("dimension")
			return runCreateOwner(apiFlag, ownerFlag, tz, provider, mdl, dim, os.Stdout)
		},
	}
	ownerCmd.Flags().StringP("timezone", "z", "UTC", "IANA time zone for day boundaries")
	ownerCmd.Flags().String("provider", "", "embedding provider (empty uses the service default)")
	ownerCmd.Flags().String("model", "", "embedding model")
	ownerCmd.Flags().Int("dimension", 0, "embedding dimension")
	rootCmd.AddCommand(ownerCmd)

	appendCmd := &cobra.Command{
		Use:   "append",
		Short: "Append a message to a stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			if ownerFlag == "" || streamFlag == "" {
				return fmt.Errorf("--owner and --stream required")
			}
			role, _ := cmd.Flags().GetString("role")
			text, _ := cmd.Flags().GetString("text")
			return runAppend(apiFlag, ownerFlag, streamFlag, role, text, os.Stdout)
		},
	}
	appendCmd.Flags().StringVarP(&streamFlag, "stream", "s", "", "Stream ID (required)")
	appendCmd.Flags().StringP("role", "r", "user", "message role: user, assistant, or tool")
	appendCmd.Flags().StringP("text", "t", "", "message content (required)")
	_ = appendCmd.MarkFlagRequired("text")
	rootCmd.AddCommand(appendCmd)

	searchCmd := &cobra.Command{
		Use:   "search",
		Short: "Search chunks and summaries",
		RunE: func(cmd *cobra.Command, args []string) error {
			if ownerFlag == "" {
				return fmt.Errorf("--owner required")
			}
			query, _ := cmd.Flags().GetString("query")
			limit, _ := cmd.Flags().GetInt("limit")
			cursor, _ := cmd.Flags().GetString("cursor")
			return runSearch(apiFlag, ownerFlag, streamFlag, query, limit, cursor, os.Stdout)
		},
	}
	searchCmd.Flags().StringVarP(&streamFlag, "stream", "s", "", "restrict to one stream")
	searchCmd.Flags().StringP("query", "q", "", "search query text (required)")
	searchCmd.Flags().IntP("limit", "k", 10, "results per page")
	searchCmd.Flags().String("cursor", "", "continuation cursor from a previous page")
	_ = searchCmd.MarkFlagRequired("query")
	rootCmd.AddCommand(searchCmd)

	contextCmd := &cobra.Command{
		Use:   "context",
		Short: "Build the warm-start context for a stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			if ownerFlag == "" || streamFlag == "" {
				return fmt.Errorf("--owner and --stream required")
			}
			return runContext(apiFlag, ownerFlag, streamFlag, os.Stdout)
		},
	}
	contextCmd.Flags().StringVarP(&streamFlag, "stream", "s", "", "Stream ID (required)")
	rootCmd.AddCommand(contextCmd)

	windowCmd := &cobra.Command{
		Use:   "window <kind> <targetId>",
		Short: "Expand a search hit into its surrounding messages",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if ownerFlag == "" {
				return fmt.Errorf("--owner required")
			}
			before, _ := cmd.Flags().GetInt("before")
			after, _ := cmd.Flags().GetInt("after")
			limit, _ := cmd.Flags().GetInt("limit")
			return runWindow(apiFlag, ownerFlag, args[0], args[1], before, after, limit, os.Stdout)
		},
	}
	windowCmd.Flags().Int("before", 0, "extra messages before the anchor")
	windowCmd.Flags().Int("after", 0, "extra messages after the anchor")
	windowCmd.Flags().Int("limit", 0, "cap on returned messages")
	rootCmd.AddCommand(windowCmd)

	rebuildCmd := &cobra.Command{
		Use:   "rebuild-embeddings",
		Short: "Re-embed all of an owner's content with a new provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			if ownerFlag == "" {
				return fmt.Errorf("--owner required")
			}
			provider, _ := cmd.Flags().GetString("provider")
			mdl, _ := cmd.Flags().GetString("model")
			dim, _ := cmd.Flags().GetInt("dimension")
			return runRebuild(apiFlag, ownerFlag, provider, mdl, dim, os.Stdout)
		},
	}
	rebuildCmd.Flags().String("provider", "", "embedding provider (required)")
	rebuildCmd.Flags().String("model", "", "embedding model (required)")
	rebuildCmd.Flags().Int("dimension", 0, "embedding dimension (required)")
	_ = rebuildCmd.MarkFlagRequired("provider")
	_ = rebuildCmd.MarkFlagRequired("model")
	_ = rebuildCmd.MarkFlagRequired("dimension")
	rootCmd.AddCommand(rebuildCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
