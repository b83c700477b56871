package main

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/MimeLyc/subtitle-batch-translator/internal/persistence"
)

func newCacheCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or trim the translation cache",
	}
	cmd.AddCommand(newCacheStatsCommand(ctx))
	cmd.AddCommand(newCachePurgeCommand(ctx))
	return cmd
}

func openCache(ctx *commandContext) (*persistence.SQLiteStore, error) {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return nil, err
	}
	if !cfg.Cache.Enabled {
		return nil, fmt.Errorf("translation cache is disabled")
	}
	return persistence.NewSQLiteStore(cfg.Cache.Path)
}

func newCacheStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show cached translations per language",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openCache(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			stats, err := store.Stats(cmd.Context())
			if err != nil {
				return err
			}

			languages := make([]string, 0, len(stats.ByLanguage))
			for lang := range stats.ByLanguage {
				languages = append(languages, lang)
			}
			sort.Strings(languages)

			rows := make([][]string, 0, len(languages))
			for _, lang := range languages {
				rows = append(rows, []string{lang, humanize.Comma(int64(stats.ByLanguage[lang]))})
			}
			out := cmd.OutOrStdout()
			if len(rows) > 0 {
				fmt.Fprintln(out, renderTable([]string{"Language", "Entries"}, rows, []columnAlignment{alignLeft, alignRight}))
			}
			updated := "never"
			if !stats.LastUpdated.IsZero() {
				updated = humanize.Time(stats.LastUpdated)
			}
			fmt.Fprintf(out, "%s entries, last updated %s\n", humanize.Comma(int64(stats.Entries)), updated)
			return nil
		},
	}
}

func newCachePurgeCommand(ctx *commandContext) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete cached translations older than --older-than",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openCache(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			cutoff := time.Now().Add(-olderThan)
			n, err := store.Purge(cmd.Context(), cutoff)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s entries\n", strconv.FormatInt(n, 10))
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "Age of entries to remove; 0 removes everything")
	return cmd
}
