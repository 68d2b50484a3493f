// Command goplan edits, generates and serves lesson plans.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/brunobiangulo/goplan"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logFormat  string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "goplan",
		Short: "Lesson-plan graph editor and generation pipeline",
		Long: `goplan keeps lesson plans (sequences, phases, activities and roles)
consistent while they are edited, and fills them in with a language model
and a learning-resource catalog.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(cmd.ErrOrStderr(), g.logFormat, g.logLevel)
		},
	}
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "config file (YAML or JSON)")
	root.PersistentFlags().StringVar(&g.logFormat, "log-format", "text", "log format: text or json")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "info", "log level: debug, info, warn, error")

	root.AddCommand(newServeCmd(g), newNormalizeCmd(), newGenerateCmd(g))
	return root
}

// loadConfig reads the config file, if any, then applies GOPLAN_*
// environment overrides.
func (g *globalFlags) loadConfig() (goplan.Config, error) {
	cfg := goplan.DefaultConfig()
	if g.configPath != "" {
		var err error
		if cfg, err = goplan.LoadConfig(g.configPath); err != nil {
			return cfg, err
		}
	}
	cfg.ApplyEnv()
	return cfg, nil
}

func setupLogging(w io.Writer, format, level string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid --log-level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var h slog.Handler
	switch strings.ToLower(format) {
	case "json":
		h = slog.NewJSONHandler(w, opts)
	case "text", "":
		h = slog.NewTextHandler(w, opts)
	default:
		return fmt.Errorf("invalid --log-format %q", format)
	}
	slog.SetDefault(slog.New(h))
	return nil
}
