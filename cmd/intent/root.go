package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/boshu2/intent/internal/vault"
	vaultpath "github.com/boshu2/intent/pkg/vault"
)

var (
	// Global flags
	vaultDir string
	cfgFile  string
	verbose  bool
	output   string

	logger *zap.Logger
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "intent",
	Short: "Autonomous heartbeat for a markdown knowledge vault",
	Long: `intent keeps a markdown vault alive between sessions: it perceives
external feeds into the inbox, evaluates commitments against observed
activity, works a bounded slice of the task queue, and writes a morning
brief.

All state lives in the vault itself: markdown notes plus JSON sidecars
under ops/. No database, no background services beyond the optional
watch daemon.

Typical loop:
  intent init          Scaffold or adopt a vault in the current directory
  intent capture       Drop a capture into the manual feed
  intent heartbeat     Run one cycle now
  intent watch         Keep cycles firing on activity and slot times
  intent status        See what the engine last did`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		syncConfigFlagToEnv()
		var err error
		logger, err = buildLogger()
		if err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	// Global flags available to all commands
	rootCmd.PersistentFlags().StringVar(&vaultDir, "vault", "", "Vault root (default: walk up from the working directory)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "Output format (table, json)")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: <vault>/ops/config.yaml)")
}

// GetVerbose returns the verbose flag value for use by subcommands.
func GetVerbose() bool {
	return verbose
}

// GetOutput returns the output format for use by subcommands.
func GetOutput() string {
	return output
}

// GetConfigFile returns the config file path for use by subcommands.
func GetConfigFile() string {
	return cfgFile
}

// buildLogger builds the CLI logger: console lines on stderr, warnings and
// up unless --verbose lowers the bar to debug.
func buildLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return cfg.Build()
}

// VerbosePrintf prints only when verbose mode is enabled.
func VerbosePrintf(format string, args ...interface{}) {
	if verbose {
		fmt.Printf(format, args...)
	}
}

func syncConfigFlagToEnv() {
	path := strings.TrimSpace(GetConfigFile())
	if path == "" {
		return
	}
	_ = os.Setenv("INTENT_CONFIG", path)
}

// openStore locates the vault root and wraps it in a Store. The --vault
// flag wins; otherwise walk up from the working directory.
func openStore() (*vault.Store, error) {
	root := strings.TrimSpace(vaultDir)
	if root == "" {
		root = vaultpath.Detect("")
	}
	if root == "" {
		return nil, fmt.Errorf("no vault found; run inside one, pass --vault, or run 'intent init'")
	}
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("vault root %s is not a directory", root)
	}
	return vault.New(root), nil
}
