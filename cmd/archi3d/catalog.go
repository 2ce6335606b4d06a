package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/archi3d/archi3d/pkg/catalog"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage the items catalog",
}

var catalogBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Scan the dataset and rebuild the items table",
	Long: `Scan the immutable dataset directory, select up to six input images
and one ground-truth object per item, merge optional enrichment
metadata, and upsert the result into tables/items.csv. Data problems
are recorded in tables/items_issues.csv instead of aborting the scan.`,
	RunE: runCatalogBuild,
}

func init() {
	catalogBuildCmd.Flags().String("enrichment", "", "Path to the enrichment JSON document (default: dataset/metadata.json when present)")

	catalogCmd.AddCommand(catalogBuildCmd)
	rootCmd.AddCommand(catalogCmd)
}

func runCatalogBuild(cmd *cobra.Command, args []string) error {
	_, ws, err := loadContext()
	if err != nil {
		return err
	}
	enrichment, _ := cmd.Flags().GetString("enrichment")

	summary, err := catalog.NewBuilder(ws, catalog.Options{EnrichmentPath: enrichment}).Build()
	if err != nil {
		return err
	}

	fmt.Printf("Scanned %d directories: %d items, %d issues\n",
		summary.Scanned, summary.Items, summary.Issues)
	if len(summary.IssueCounts) > 0 {
		tags := make([]string, 0, len(summary.IssueCounts))
		for tag := range summary.IssueCounts {
			tags = append(tags, tag)
		}
		sort.Strings(tags)
		for _, tag := range tags {
			fmt.Printf("  %s: %d\n", tag, summary.IssueCounts[tag])
		}
	}
	return nil
}
