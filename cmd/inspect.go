package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/MimeLyc/subtitle-batch-translator/internal/estimate"
	"github.com/MimeLyc/subtitle-batch-translator/internal/langs"
	"github.com/MimeLyc/subtitle-batch-translator/internal/service"
)

func newValidateCommand(ctx *commandContext) *cobra.Command {
	var flags runFlags
	var verbose bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check translated files against their sources without writing anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			cfg := flags.apply(cmd, base)
			if err := requireFolders(cfg); err != nil {
				return err
			}
			a, err := newApp(cfg, nil)
			if err != nil {
				return err
			}
			defer a.close()

			languages := cfg.Translate.Languages
			if len(languages) == 0 {
				languages = a.catalog.Keys()
			}
			reports, err := a.coord.Validate(cfg.Translate.SourceDir, cfg.Translate.OutputDir, languages)
			if err != nil {
				return err
			}
			printValidation(cmd.OutOrStdout(), reports, verbose)

			failed := 0
			for _, r := range reports {
				failed += len(r.Failed())
			}
			if failed > 0 {
				return fmt.Errorf("%d outputs failed validation", failed)
			}
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "List every failed file with its reasons")
	return cmd
}

func newAnalyzeCommand(ctx *commandContext) *cobra.Command {
	var flags runFlags
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "analyze [files...]",
		Short: "Estimate tokens and cost before translating",
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			cfg := flags.apply(cmd, base)

			files := args
			if len(files) == 0 {
				if cfg.Translate.SourceDir == "" {
					return errors.New("pass files or --source")
				}
				files, err = service.SourceFiles(cfg.Translate.SourceDir, cfg.Translate.OutputDir)
				if err != nil {
					return err
				}
			}

			est, err := estimate.Analyze(files, cfg.LLM.Model, estimate.Options{
				BatchSize: cfg.Translate.BatchSize,
				Languages: len(cfg.Translate.Languages),
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(est)
			}

			rows := [][]string{
				{"Model", est.Model},
				{"Files", humanize.Comma(int64(est.Files))},
				{"Languages", strconv.Itoa(est.Languages)},
				{"Source languages", formatCounts(est.SourceLanguages)},
				{"Dialogue blocks", humanize.Comma(int64(est.Blocks))},
				{"Characters", humanize.Comma(int64(est.Chars))},
				{"LLM calls", humanize.Comma(int64(est.Batches))},
				{"Input tokens", humanize.Comma(est.InputTokens)},
				{"Output tokens", humanize.Comma(est.OutputTokens)},
				{"Total tokens", humanize.Comma(est.TotalTokens)},
			}
			if est.Confidence == "unknown" {
				rows = append(rows, []string{"Cost", "no price known for " + est.Model})
			} else {
				rows = append(rows,
					[]string{"Cost (USD)", "$" + humanize.CommafWithDigits(est.CostUSD, 4)},
					[]string{"Cost (INR)", "₹" + humanize.CommafWithDigits(est.CostINR, 2)},
				)
			}
			if len(est.Skipped) > 0 {
				rows = append(rows, []string{"Skipped", strings.Join(est.Skipped, ", ")})
			}
			fmt.Fprintln(out, renderTable([]string{"Estimate", "Value"}, rows, []columnAlignment{alignLeft, alignRight}))
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the estimate as JSON")
	return cmd
}

func formatCounts(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s (%d)", k, counts[k]))
	}
	return strings.Join(parts, ", ")
}

func newLanguagesCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "languages",
		Short: "List the target languages that can be requested",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			catalog, err := langs.Load(cfg.Translate.LanguagesFile)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), languageTable(catalog.All()))
			return nil
		},
	}
}

func languageTable(all []langs.Language) string {
	rows := make([][]string, 0, len(all))
	for _, l := range all {
		rows = append(rows, []string{
			l.Key,
			l.Name,
			l.Tag.String(),
			l.Folder,
			l.Suffix,
			strings.Join(l.Aliases, ", "),
		})
	}
	return renderTable([]string{"Key", "Name", "Tag", "Folder", "Suffix", "Aliases"}, rows, nil)
}
