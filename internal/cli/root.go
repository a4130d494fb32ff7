package cli

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"quiz-attempt-service/internal/config"
)

// rootOptions are the persistent flags shared by every subcommand.
type rootOptions struct {
	port       string
	configPath string
	logLevel   string
}

// Execute runs the CLI; cancelling ctx shuts a running server down.
func Execute(ctx context.Context) error {
	return newRootCmd().ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:          "quiz-attempt-service",
		Short:        "Timed quiz attempts with autosave, resume and server-side grading",
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.port, "port", os.Getenv("PORT"), "port to listen on (default: server.port, then 8080)")
	flags.StringVar(&opts.configPath, "config", envOr("CONFIG_PATH", "config/config.yaml"), "path to YAML config")
	flags.StringVar(&opts.logLevel, "log-level", os.Getenv("LOG_LEVEL"), "overrides log.level from the config")

	cmd.AddCommand(NewStartCmd(opts))
	cmd.AddCommand(NewMigrateCmd(opts))
	return cmd
}

// loadConfig reads the YAML config and applies flag overrides.
func (o *rootOptions) loadConfig() (config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return cfg, err
	}
	if o.port != "" {
		cfg.Server.Port = o.port
	}
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8080"
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
