package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/Riboost-Studio/print-my-bridge/internal/model"
	"github.com/Riboost-Studio/print-my-bridge/internal/server"
	"github.com/Riboost-Studio/print-my-bridge/internal/services"
	"github.com/Riboost-Studio/print-my-bridge/internal/utils"
)

const (
	appName    = "Print My Bridge"
	appVersion = "1.0.0"
)

var (
	configPath string
	logLevel   string
	logFormat  string
	jsonOutput bool
)

// --- Main ---

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "print-my-bridge",
	Short:        "Expose local printers over an authenticated HTTP API",
	SilenceUsage: true,
	RunE:         runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bridge (default command)",
	RunE:  runServe,
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage the API token",
}

var tokenRotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Replace the API token; the old one stops working",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, err := appContext()
		if err != nil {
			return err
		}
		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}
		token := services.NewTokenStore(cfg.APIToken).Rotate()
		if _, err := utils.UpdateConfig(configFile(ctx), func(c *model.BridgeConfig) { c.APIToken = token }); err != nil {
			return fmt.Errorf("saving token: %w", err)
		}
		fmt.Printf("New API token: %s\n", token)
		fmt.Println("A running bridge picks it up on SIGHUP or restart.")
		return nil
	},
}

var tokenShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current API token",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, err := appContext()
		if err != nil {
			return err
		}
		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}
		fmt.Println(cfg.APIToken)
		return nil
	},
}

var printersCmd = &cobra.Command{
	Use:   "printers",
	Short: "List printers known to the local spooler",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, err := appContext()
		if err != nil {
			return err
		}
		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}
		logger, closer, err := newLogger(cfg)
		if err != nil {
			return err
		}
		defer closer.Close()

		gateway, err := newGateway(cfg, logger, utils.DetectSystem())
		if err != nil {
			return err
		}
		printers, err := gateway.List(cmd.Context())
		if err != nil {
			return err
		}
		return printPrinters(cmd.OutOrStdout(), printers)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check whether a bridge is answering on the configured port",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, err := appContext()
		if err != nil {
			return err
		}
		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}
		status := checkBridge(cmd.Context(), cfg)
		if jsonOutput {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(status)
		}
		state := "inactive"
		if status.Active {
			state = "active"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s is %s on %s:%d (version %s)\n",
			appName, state, status.Host, status.Port, status.Version)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", server.ServiceName, appVersion)
	},
}

func init() {
	bindCommonFlags(rootCmd.PersistentFlags())
	printersCmd.Flags().BoolVar(&jsonOutput, "json", false, "print JSON instead of a table")
	statusCmd.Flags().BoolVar(&jsonOutput, "json", false, "print JSON")

	tokenCmd.AddCommand(tokenRotateCmd, tokenShowCmd)
	rootCmd.AddCommand(serveCmd, tokenCmd, printersCmd, statusCmd, versionCmd)
}

func bindCommonFlags(flags *pflag.FlagSet) {
	flags.StringVarP(&configPath, "config", "c", "", "config file (.toml, .yaml or .json); default $PRINT_MY_BRIDGE_CONFIG or the user config dir")
	flags.StringVar(&logLevel, "log-level", "", "override the configured log level (debug, info, warn, error)")
	flags.StringVar(&logFormat, "log-format", "", "override the configured log format (text, json)")
}

// appContext carries the app identity and config location, like the rest of
// the process expects.
func appContext() (context.Context, error) {
	path := configPath
	if path == "" {
		var err error
		if path, err = utils.DefaultConfigPath(); err != nil {
			return nil, err
		}
	}
	ctx := context.Background()
	ctx = context.WithValue(ctx, model.ContextAppName, appName)
	ctx = context.WithValue(ctx, model.ContextAppVersion, appVersion)
	ctx = context.WithValue(ctx, model.ContextConfigFile, path)
	return ctx, nil
}

func configFile(ctx context.Context) string {
	path, _ := ctx.Value(model.ContextConfigFile).(string)
	return path
}

func loadConfig(ctx context.Context) (model.BridgeConfig, error) {
	cfg, created, err := utils.LoadOrSetupConfig(ctx, services.GenerateToken)
	if err != nil {
		return cfg, fmt.Errorf("config error: %w", err)
	}
	if created {
		fmt.Printf("Configuration created at %s\n", configFile(ctx))
		fmt.Printf("API token: %s\n", cfg.APIToken)
	}
	return cfg, nil
}

func newLogger(cfg model.BridgeConfig) (*slog.Logger, io.Closer, error) {
	opts := utils.LogOptions{Level: cfg.Log.Level, Format: cfg.Log.Format, Dir: cfg.Log.Dir}
	if logLevel != "" {
		opts.Level = logLevel
	}
	if logFormat != "" {
		opts.Format = logFormat
	}
	return utils.NewLogger(opts)
}

func newGateway(cfg model.BridgeConfig, logger *slog.Logger, sys utils.SystemInfo) (services.PrinterGateway, error) {
	opts := services.GatewayOptions{
		SpoolerTimeout: cfg.SpoolerTimeout.Std(),
		Logger:         logger,
	}
	if sys.ChromePresent {
		opts.Renderer = services.NewChromeRenderer(sys.ChromePath)
	}
	return services.NewPrinterGateway(sys.OS, opts)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, err := appContext()
	if err != nil {
		return err
	}

	// 1. Load Configuration
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	logger, closer, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()
	slog.SetDefault(logger)

	// 2. Printer backend for this OS
	sys := utils.ValidateSystemRequirements(logger)
	gateway, err := newGateway(cfg, logger, sys)
	if err != nil {
		return err
	}

	// 3. Server
	path := configFile(ctx)
	srv, err := server.New(server.Options{
		Config:  cfg,
		Version: appVersion,
		Gateway: gateway,
		Logger:  logger,
		OnTokenRotated: func(token string) {
			if _, err := utils.UpdateConfig(path, func(c *model.BridgeConfig) { c.APIToken = token }); err != nil {
				logger.Error("failed to persist rotated token", "error", err)
			}
		},
	})
	if err != nil {
		return err
	}
	if err := srv.Start(ctx); err != nil {
		return err
	}
	logger.Info("bridge started",
		"app", ctx.Value(model.ContextAppName),
		"version", ctx.Value(model.ContextAppVersion),
		"config", path,
	)

	// 4. Wait for reload or exit
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-sigCtx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		case <-hup:
			next, err := utils.ReadConfig(path)
			if err != nil {
				logger.Error("config reload failed, keeping current config", "error", err)
				continue
			}
			if err := srv.Reload(next); err != nil {
				logger.Error("config reload rejected", "error", err)
			}
		}
	}
}

func printPrinters(w io.Writer, printers []model.PrinterDescriptor) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(model.PrintersResponse{Printers: printers})
	}
	if len(printers) == 0 {
		fmt.Fprintln(w, "No printers found.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSTATUS\tDEFAULT")
	for _, p := range printers {
		def := ""
		if p.IsDefault {
			def = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", p.Name, p.Status, def)
	}
	return tw.Flush()
}

// checkBridge asks a running bridge for /health.
func checkBridge(ctx context.Context, cfg model.BridgeConfig) model.BridgeStatus {
	status := model.BridgeStatus{Host: cfg.Host, Port: cfg.Port, Version: appVersion}

	host := cfg.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	url := "http://" + net.JoinHostPort(host, strconv.Itoa(cfg.Port)) + "/health"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return status
	}
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return status
	}
	defer resp.Body.Close()

	var health model.HealthResponse
	if resp.StatusCode == http.StatusOK && json.NewDecoder(resp.Body).Decode(&health) == nil {
		status.Active = health.Status == "ok"
		status.Version = health.Version
	}
	return status
}
