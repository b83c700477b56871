package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/MimeLyc/subtitle-batch-translator/internal/config"
	"github.com/MimeLyc/subtitle-batch-translator/internal/library"
)

func newLibraryScanner(a *app, cfg *config.Config) (*library.Scanner, error) {
	names := cfg.Translate.Languages
	if len(names) == 0 {
		names = a.catalog.Keys()
	}
	targets, err := a.catalog.Resolve(names)
	if err != nil {
		return nil, err
	}
	return library.NewScanner(cfg.Translate.SourceDir, cfg.Translate.OutputDir, targets,
		library.WithSourceSuffix(cfg.Translate.SourceSuffix)), nil
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var flags runFlags
	var verbose bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show which translations already exist",
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

			scanner, err := newLibraryScanner(a, cfg)
			if err != nil {
				return err
			}
			lib, err := scanner.Scan(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			rows := make([][]string, 0, len(lib.Coverage))
			for _, c := range lib.Coverage {
				rows = append(rows, []string{
					c.Language,
					strconv.Itoa(c.Translated),
					strconv.Itoa(c.Total - c.Translated),
					strconv.Itoa(c.Stale),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Language", "Translated", "Missing", "Stale"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignRight, alignRight},
			))

			if verbose {
				var items [][]string
				for _, item := range lib.Items {
					missing := item.Missing()
					if len(missing) == 0 {
						continue
					}
					items = append(items, []string{
						item.ID,
						item.Name,
						humanize.Time(item.Modified),
						strings.Join(missing, ", "),
					})
				}
				if len(items) > 0 {
					fmt.Fprintln(out, renderTable([]string{"Source", "Name", "Changed", "Missing"}, items, nil))
				}
			}
			fmt.Fprintf(out, "%d source files in %s\n", len(lib.Items), lib.SourceDir)
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "List source files with missing translations")
	return cmd
}
