package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/perturbd/perturbd/pkg/config"
	"github.com/perturbd/perturbd/pkg/engine"
	"github.com/perturbd/perturbd/pkg/logging"
)

// serveFlags holds all flags for the serve command.
type serveFlags struct {
	configPath string
	port       int
	logLevel   string
	logFormat  string
	noWatch    bool
}

var serveFlagVals serveFlags

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the mock server",
	Long: `Start the mock server from a config file.

The server runs in the foreground until SIGTERM/SIGINT. With hot
reload enabled in the config, edits to the config file are picked up
without a restart; a reload that fails validation is logged and the
previous configuration keeps serving.`,
	Example: `  # Start with a config file
  perturbd serve --config perturbd.yaml

  # Defaults only, no config file
  perturbd serve

  # JSON logs for CI parsing
  perturbd serve --config perturbd.yaml --log-format json`,
	RunE: runServe,
}

func init() {
	f := &serveFlagVals

	serveCmd.Flags().StringVarP(&f.configPath, "config", "c", "", "Path to config file (YAML or JSON)")
	serveCmd.Flags().IntVarP(&f.port, "port", "p", 0, "Override the configured HTTP port")
	serveCmd.Flags().StringVar(&f.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	serveCmd.Flags().StringVar(&f.logFormat, "log-format", "", "Log format (text, json)")
	serveCmd.Flags().BoolVar(&f.noWatch, "no-watch", false, "Disable config hot reload even if enabled in the config")

	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	f := &serveFlagVals

	cfg, err := loadConfig(f.configPath)
	if err != nil {
		return err
	}
	if f.port != 0 {
		cfg.Port = f.port
	}

	level := cfg.Logging.Level
	if f.logLevel != "" {
		level = f.logLevel
	}
	format := cfg.Logging.Format
	if f.logFormat != "" {
		format = f.logFormat
	}
	log := logging.New(logging.Config{
		Level:  logging.ParseLevel(level),
		Format: logging.ParseFormat(format),
	})

	if err := checkStartupConfig(cfg, log); err != nil {
		return err
	}

	srv, err := engine.NewServer(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Features.HotReload && !f.noWatch && f.configPath != "" {
		go func() {
			if werr := engine.WatchConfig(ctx, f.configPath, srv, log); werr != nil {
				log.Error("config watcher stopped", "error", werr)
			}
		}()
	}

	log.Info("starting perturbd",
		"port", cfg.Port,
		"config", f.configPath,
		"resources", len(cfg.Resources),
		"staticEndpoints", len(cfg.StaticEndpoints),
		"recordReplay", string(cfg.Features.RecordReplay.Mode),
	)

	return srv.Start(ctx)
}

// checkStartupConfig runs config validation with the severity the
// config itself selects: strict mode refuses to start, lenient mode
// logs each problem and serves the config as given.
func checkStartupConfig(cfg *config.Config, log *slog.Logger) error {
	result := config.Validate(cfg)
	if result.IsValid() {
		return nil
	}
	if cfg.Features.SchemaValidation == config.SchemaStrict {
		return fmt.Errorf("invalid configuration: %s", result.Error())
	}
	for _, e := range result.Errors {
		log.Warn("configuration problem (lenient mode)", "path", e.Path, "error", e.Message)
	}
	return nil
}

// loadConfig loads the config file, or returns defaults when no path
// is given.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}
	cfg, err := config.LoadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}
