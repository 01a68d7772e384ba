package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/digestd/internal/config"
	"github.com/kalambet/digestd/internal/ingest"
)

// --- run ---

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one ingestion batch now",
	Long: `Run one ingestion batch: collect new newsletter emails, convert them to
text, extract structured items, and apply retention.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("Running pipeline...")
		resp, err := client.post(cmd.Context(), "/run", nil)
		if err != nil {
			return err
		}

		var result ingest.BatchResult
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printStatus("Collected", "%d", result.Collect.Count)
		printStatus("Converted", "%d", result.Convert.Count)
		printStatus("Extracted", "%d", result.Extract.Count)
		if result.Retained > 0 {
			printStatus("Evicted", "%d", result.Retained)
		}
		for _, phase := range []ingest.PhaseResult{result.Collect, result.Convert, result.Extract} {
			for _, e := range phase.Errors {
				printWarning("%s", e)
			}
		}

		if !result.Success {
			if result.FailureReason != "" {
				printError("Batch failed: %s", result.FailureReason)
			} else {
				printWarning("Nothing new to process")
			}
			return nil
		}
		printSuccess("Batch %s finished", result.RunID)
		return nil
	},
}

// --- items ---

var itemsCmd = &cobra.Command{
	Use:   "items",
	Short: "List extracted newsletter items",
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("days")
		limit, _ := cmd.Flags().GetInt("limit")
		search, _ := cmd.Flags().GetString("search")
		dedup, _ := cmd.Flags().GetBool("dedup")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		if dedup {
			return printDedupedItems(cmd.Context(), client, days)
		}

		path := fmt.Sprintf("/items?days=%d&limit=%d", days, limit)
		if search != "" {
			path = fmt.Sprintf("/items?q=%s&limit=%d", url.QueryEscape(search), limit)
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var items []struct {
			StableID string `json:"stable_id"`
			Date     string `json:"date"`
			Title    string `json:"title"`
			Summary  string `json:"summary"`
			Link     string `json:"link"`
		}
		if err := decodeJSON(resp, &items); err != nil {
			return err
		}

		if len(items) == 0 {
			fmt.Println("No items found.")
			return nil
		}

		for _, it := range items {
			fmt.Printf("\n%s  %s\n", colorize(colorCyan, it.StableID), colorize(colorBold, it.Title))
			if it.Date != "" {
				fmt.Printf("  %s\n", it.Date)
			}
			if it.Summary != "" {
				summary := it.Summary
				if len(summary) > 300 {
					summary = summary[:300] + "..."
				}
				fmt.Printf("  %s\n", summary)
			}
			if it.Link != "" {
				fmt.Printf("  %s\n", it.Link)
			}
		}
		return nil
	},
}

// printDedupedItems lists the deduplicated window served by /digest.
func printDedupedItems(ctx context.Context, client *apiClient, days int) error {
	resp, err := client.get(ctx, fmt.Sprintf("/digest?days=%d", days))
	if err != nil {
		return err
	}

	var digest struct {
		Items []struct {
			StableID   string `json:"stable_id"`
			Date       string `json:"date"`
			Title      string `json:"title"`
			Summary    string `json:"summary"`
			Link       string `json:"link"`
			SourceType string `json:"source_type"`
		} `json:"items"`
	}
	if err := decodeJSON(resp, &digest); err != nil {
		return err
	}

	if len(digest.Items) == 0 {
		fmt.Println("No items found.")
		return nil
	}

	for _, it := range digest.Items {
		title := it.Title
		if it.SourceType == "digest" {
			title += " (merged)"
		}
		fmt.Printf("\n%s  %s\n", colorize(colorCyan, it.StableID), colorize(colorBold, title))
		if it.Date != "" {
			fmt.Printf("  %s\n", it.Date)
		}
		if it.Summary != "" {
			fmt.Printf("  %s\n", it.Summary)
		}
		if it.Link != "" {
			fmt.Printf("  %s\n", it.Link)
		}
	}
	return nil
}

func init() {
	itemsCmd.Flags().Int("days", 7, "only items parsed in the last N days")
	itemsCmd.Flags().Int("limit", 50, "maximum number of items")
	itemsCmd.Flags().String("search", "", "search items by title or summary text")
	itemsCmd.Flags().Bool("dedup", false, "deduplicate overlapping coverage before listing")
}

// --- digest ---

var digestCmd = &cobra.Command{
	Use:   "digest",
	Short: "Print a deduplicated digest of recent items as Markdown",
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("days")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/digest?days=%d&format=markdown", days))
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
		}

		_, err = io.Copy(os.Stdout, resp.Body)
		return err
	},
}

func init() {
	digestCmd.Flags().Int("days", 7, "window size in days")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Reset a configuration value to its default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}

		printSuccess("Unset %s", args[0])
		return nil
	},
}

var configSetSecretCmd = &cobra.Command{
	Use:   "set-secret <name> <value>",
	Short: "Store a secret (e.g. openrouter_api_key) in the secrets file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, value := args[0], strings.TrimSpace(args[1])

		if err := config.SetSecret(name, value); err != nil {
			return err
		}

		printSuccess("Stored secret %s", name)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
	configCmd.AddCommand(configSetSecretCmd)
}
