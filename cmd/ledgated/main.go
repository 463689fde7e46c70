// Command ledgated publishes the status LED as a character device and drives
// it from the commands written to that device.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ledgate/ledgate/internal/config"
	"github.com/ledgate/ledgate/pkg/api"
	"github.com/ledgate/ledgate/pkg/utils"
)

var (
	configFile = flag.String("config", "", "Path to configuration file")
	logLevel   = flag.String("log-level", "", "Override the configured log level")
	driver     = flag.String("driver", "", "Override the line driver (gpiocdev, sysfs, sim)")
	dryRun     = flag.Bool("dry-run", false, "Use the simulated line and a scratch namespace without mounting")
	saveConfig = flag.String("save-config", "", "Write the effective configuration to this file and exit")
)

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "ledgated: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(*configFile)
	if err != nil {
		return err
	}
	if *logLevel != "" {
		cfg.Global.LogLevel = *logLevel
	}
	if *driver != "" {
		cfg.Line.Driver = *driver
	}
	if *saveConfig != "" {
		if err := cfg.Validate(); err != nil {
			return err
		}
		return cfg.SaveToFile(*saveConfig)
	}

	var tmpDir string
	if *dryRun {
		if tmpDir, err = prepareDryRun(cfg); err != nil {
			return err
		}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := utils.SetupLogging(cfg.Global.LogLevel, cfg.Global.LogFile, cfg.Global.LogFormat)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
		_ = logger.Close()
	}()
	logger.Info("Starting ledgated %s (log level %s)", api.Version, logger.GetLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := newDaemon(cfg, *dryRun, tmpDir, logger)
	if err != nil {
		if tmpDir != "" {
			_ = os.RemoveAll(tmpDir)
		}
		return err
	}
	if err := d.start(ctx); err != nil {
		d.stop()
		return err
	}

	<-ctx.Done()
	logger.Info("Received shutdown signal, cleaning up...")
	d.stop()
	return nil
}
