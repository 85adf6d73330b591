// Command unidrive is the composition-root binary: it loads configuration,
// blank-imports every driver package so each registers its DriverKind, and
// runs a Gateway until it receives a shutdown signal.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/unidrive/core/internal/adapter"
	"github.com/unidrive/core/internal/config"
	"github.com/unidrive/core/internal/registry"
	"github.com/unidrive/core/pkg/utils"

	_ "github.com/unidrive/core/internal/drivers/ftp"
	_ "github.com/unidrive/core/internal/drivers/local"
	_ "github.com/unidrive/core/internal/drivers/s3"
	_ "github.com/unidrive/core/internal/drivers/sftp"
	_ "github.com/unidrive/core/internal/drivers/stub"
	_ "github.com/unidrive/core/internal/drivers/webdav"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "unidrive",
	Short: "unidrive - a storage federation gateway",
	Long: `unidrive mounts many storage backends (local disk, S3, FTP, SFTP,
WebDAV, and more) under one virtual namespace, exposed over FUSE and an
HTTP monitoring API.`,
	Version: Version,
	RunE:    runServe,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"unidrive version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML configuration file")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.NewDefault()
	if configPath != "" {
		if err := cfg.LoadFromFile(configPath); err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return fmt.Errorf("load env overrides: %w", err)
	}

	level, err := utils.ParseLogLevel(cfg.Global.LogLevel)
	if err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	loggerConfig := utils.DefaultStructuredLoggerConfig()
	loggerConfig.Level = level
	if cfg.Monitoring.Logging.Format == "json" {
		loggerConfig.Format = utils.FormatJSON
	}
	logger, err := utils.NewStructuredLogger(loggerConfig)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Close()

	gw, err := adapter.New(cfg, registry.Default())
	if err != nil {
		return fmt.Errorf("build gateway: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := gw.Start(ctx); err != nil {
		return fmt.Errorf("start gateway: %w", err)
	}
	logger.Info("gateway started", map[string]interface{}{"mounts": len(cfg.Mounts)})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutdown signal received", nil)
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	return gw.Stop(stopCtx)
}
