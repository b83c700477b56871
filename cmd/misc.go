package main

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/MimeLyc/subtitle-batch-translator/internal/llm"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func newConfigCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets redacted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if cfg.Path != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "# loaded from %s\n", cfg.Path)
			}
			fmt.Fprint(cmd.OutOrStdout(), cfg.Redacted())
			return nil
		},
	})
	cmd.AddCommand(newConfigCheckCommand(ctx))
	return cmd
}

const checkTimeout = 30 * time.Second

// newConfigCheckCommand sends one tiny prompt to confirm the provider
// accepts the configured key and model.
func newConfigCheckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify the LLM credentials with a one line request",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := cfg.RequireLLM(); err != nil {
				return err
			}
			client, err := llm.NewClient(&cfg.LLM)
			if err != nil {
				return err
			}

			reqCtx, cancel := context.WithTimeout(cmd.Context(), checkTimeout)
			defer cancel()
			start := time.Now()
			reply, err := client.SimpleChat(reqCtx, "Reply with the single word OK.", "")
			if err != nil {
				return fmt.Errorf("%s at %s: %w", cfg.LLM.Model, cfg.LLM.APIURL, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s answered %q in %s\n",
				client.Model(), strings.TrimSpace(reply), time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print the version",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "subbatch %s (%s)\n", version, runtime.Version())
		},
	}
}
