package cmd

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/chinmay1088/rethx/config"
	"github.com/chinmay1088/rethx/metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	version = "0.1.0"
)

// app holds the state shared by every command of one invocation.
type app struct {
	v       *viper.Viper
	cfgFile string
	verbose bool

	cfg     config.Config
	metrics metrics.Metrics
}

// NewRootCmd builds the rethx command tree.
func NewRootCmd() *cobra.Command {
	a := &app{
		v:       viper.New(),
		metrics: metrics.NewNoopMetrics(),
	}
	config.SetDefaults(a.v)

	rootCmd := &cobra.Command{
		Use:   "rethx",
		Short: "Query the reth-specific JSON-RPC namespace of a node",
		Long: `rethx talks to the reth_* JSON-RPC methods of a reth node: per-block
balance changes, block execution outcomes, chain notifications and persisted
block notifications.

Endpoints, timeouts and the redis sink are read from ~/.rethx/config.yaml,
RETHX_* environment variables and flags, in increasing order of precedence.

Examples:
  rethx endpoint http http://localhost:8545   # Use a local node for calls
  rethx balance-changes latest                # Balance changes in the latest block
  rethx outcome 21000000 --count 2            # Merged outcome of two blocks
  rethx scan 21000000 21000099                # Summarize balance changes in a range
  rethx watch persisted                       # Follow persisted blocks over websocket`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.loadConfig,
	}

	// Global flags
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (default ~/.rethx/config.yaml)")
	pf.String("http-url", "", "node endpoint for request/response calls")
	pf.String("ws-url", "", "node websocket endpoint for subscriptions")
	pf.Duration("timeout", 0, "timeout of each call (default 30s)")
	pf.String("log-level", "", "log level: debug, info, warn or error")
	pf.String("log-format", "", "log format: text or json")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "verbose output")

	_ = a.v.BindPFlag(config.KeyHTTPURL, pf.Lookup("http-url"))
	_ = a.v.BindPFlag(config.KeyWSURL, pf.Lookup("ws-url"))
	_ = a.v.BindPFlag(config.KeyTimeout, pf.Lookup("timeout"))
	_ = a.v.BindPFlag(config.KeyLogLevel, pf.Lookup("log-level"))
	_ = a.v.BindPFlag(config.KeyLogFormat, pf.Lookup("log-format"))

	// Add subcommands
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newEndpointCmd(a))
	rootCmd.AddCommand(newBalanceChangesCmd(a))
	rootCmd.AddCommand(newOutcomeCmd(a))
	rootCmd.AddCommand(newScanCmd(a))
	rootCmd.AddCommand(newWatchCmd(a))

	return rootCmd
}

// Execute runs the root command with the process arguments.
func Execute() error {
	return NewRootCmd().Execute()
}

func (a *app) loadConfig(cmd *cobra.Command, _ []string) error {
	if err := config.ReadFile(a.v, a.cfgFile); err != nil {
		return err
	}
	cfg, err := config.Load(a.v)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if a.verbose {
		cfg.Log.Level = "debug"
	}
	a.cfg = cfg

	logger, err := newLogger(cmd.ErrOrStderr(), cfg.Log)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	slog.Debug("Loaded configuration", "http_url", cfg.HTTPURL, "ws_url", cfg.WSURL, "timeout", cfg.Timeout)
	return nil
}

func newLogger(w io.Writer, c config.LogConfig) (*slog.Logger, error) {
	level, err := c.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "rethx v%s\n", version)
		},
	}
}
