package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blesvc/internal/host"
	"github.com/srg/blesvc/internal/peripheral"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the BLE peripheral",
	Long: `Registers the configured services with the host stack, starts sampling the
hardware, and advertises until interrupted.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var (
	serveBackend         string
	serveHAL             string
	serveName            string
	serveAdvertiseWindow time.Duration
	serveVerbose         bool
)

func init() {
	serveCmd.Flags().StringVar(&serveBackend, "backend", "", "Host stack backend (go-ble, tinygo, sim)")
	serveCmd.Flags().StringVar(&serveHAL, "hal", "", "Hardware driver (sim, periph)")
	serveCmd.Flags().StringVar(&serveName, "name", "", "Advertised device name")
	serveCmd.Flags().DurationVar(&serveAdvertiseWindow, "advertise-window", 0, "Advertising window; 0 advertises until interrupted")
	serveCmd.Flags().BoolVarP(&serveVerbose, "verbose", "v", false, "Verbose output")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("backend") {
		cfg.Backend = serveBackend
	}
	if flags.Changed("hal") {
		cfg.HAL = serveHAL
	}
	if flags.Changed("name") {
		cfg.DeviceName = serveName
	}
	if flags.Changed("advertise-window") {
		cfg.AdvertiseWindow = serveAdvertiseWindow
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	logger, err := configureLogger(cmd, cfg, "verbose")
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := peripheral.Open(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := p.Close(); cerr != nil {
			logger.WithError(cerr).Warn("Failed to shut down cleanly")
		}
	}()

	if err := p.Start(ctx); err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"name":     cfg.DeviceName,
		"backend":  cfg.Backend,
		"hal":      cfg.HAL,
		"services": host.ServiceUUIDs(p.Runtime().Services()),
	}).Info("Peripheral running")

	if err := p.Advertise(ctx); err != nil {
		return err
	}
	logger.Info("Shutting down")
	return nil
}
