package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/apiscope/apiscope/internal/agent"
	"github.com/apiscope/apiscope/internal/intercept"
	"github.com/apiscope/apiscope/internal/version"
)

var (
	cfgFile  string
	logLevel string
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apiscope",
		Short: "Runtime API observation agent",
		Long: `apiscope hooks sensitive runtime and native library calls in a
target process and emits one JSON line per observed invocation,
ready to be consumed by an external analyzer. No target changes
required.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}

	cmd.Flags().StringVar(
		&cfgFile, "config", "",
		"path to config file (required)",
	)
	cmd.Flags().StringVar(
		&logLevel, "log-level", "",
		"override log level (debug, info, warn, error)",
	)

	if err := cmd.MarkFlagRequired("config"); err != nil {
		fmt.Fprintf(os.Stderr, "error marking flag required: %v\n", err)
		os.Exit(1)
	}

	cmd.AddCommand(versionCmd())

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.FullWithPlatform())
		},
	}
}

// newPrimitive builds the interception primitive selected by the config.
func newPrimitive(
	log logrus.FieldLogger,
	cfg *agent.Config,
) (intercept.Primitive, error) {
	switch cfg.Intercept.Mode {
	case agent.ModeUprobe:
		return intercept.NewUprobePrimitive(log, cfg.Intercept.Uprobe)
	case agent.ModeSimulator:
		return intercept.NewSimulator(), nil
	default:
		return nil, fmt.Errorf(
			"unknown intercept mode %q", cfg.Intercept.Mode,
		)
	}
}

func run(cmd *cobra.Command, args []string) error {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	cfg, err := agent.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// CLI flag overrides config file.
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("parsing log level %q: %w", cfg.LogLevel, err)
	}

	log.SetLevel(level)

	ctx, cancel := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer cancel()

	primitive, err := newPrimitive(log, cfg)
	if err != nil {
		return fmt.Errorf("creating interception primitive: %w", err)
	}

	// Event lines go to stdout; logs go to stderr.
	a, err := agent.New(log, cfg, primitive, os.Stdout)
	if err != nil {
		return fmt.Errorf("creating agent: %w", err)
	}

	log.Info("Starting apiscope agent")

	if err := a.Start(ctx); err != nil {
		return fmt.Errorf("starting agent: %w", err)
	}

	<-ctx.Done()

	log.Info("Shutting down apiscope agent")

	if err := a.Stop(); err != nil {
		log.WithError(err).Error("Error during shutdown")
		return fmt.Errorf("stopping agent: %w", err)
	}

	log.Info("Shutdown complete")

	return nil
}
