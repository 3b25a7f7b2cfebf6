package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/erasure/internal/compose"
	"github.com/JakeFAU/erasure/internal/crawler"
)

func newCrawlCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "crawl <website>",
		Short: "Find the privacy contacts of one site",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			seed, err := crawler.NormalizeSeed(args[0])
			if err != nil {
				return err
			}
			result := rt.app.Crawler().Crawl(cmd.Context(), seed)
			return printCrawl(cmd.OutOrStdout(), result, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the crawl tree as JSON")
	return cmd
}

func printCrawl(w io.Writer, result crawler.CrawlResult, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return fmt.Errorf("encode crawl: %w", err)
		}
		return nil
	}
	if _, err := io.WriteString(w, crawler.FormatResults(result)); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	ranked := compose.RankRecipients(crawler.CollectMailto(result))
	if len(ranked) == 0 {
		_, err := fmt.Fprintln(w, "No contact addresses found.")
		return err
	}
	if _, err := fmt.Fprintln(w, "Contacts (best first):"); err != nil {
		return err
	}
	for _, addr := range ranked {
		if _, err := fmt.Fprintln(w, "- "+addr); err != nil {
			return err
		}
	}
	return nil
}
