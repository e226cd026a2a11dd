package cmd

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/roffe/canconf/pkg/config"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:               "canconf",
	Short:             "CAN device configuration tool",
	Long:              `Talk to CAN attached power distribution modules: monitor signals, replay logs and send configuration requests`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

const (
	flagPort     = "port"
	flagBaudrate = "baudrate"
	flagDebug    = "debug"
	flagAdapter  = "adapter"
	flagBitrate  = "bitrate"
	flagConfig   = "config"
	flagLogFile  = "log-file"
)

// cfg is populated before any subcommand runs
var cfg *config.Config

func init() {
	log.SetFlags(log.Lshortfile | log.LstdFlags)

	pf := rootCmd.PersistentFlags()
	pf.StringP(flagPort, "p", "*", "com-port, * = select from available")
	pf.IntP(flagBaudrate, "b", 115200, "baudrate")
	pf.BoolP(flagDebug, "d", false, "debug mode")
	pf.StringP(flagAdapter, "a", "SLCAN", "what adapter to use")
	pf.StringP(flagBitrate, "r", "500K", "CAN bitrate, 125K 250K 500K or 1M")
	pf.StringP(flagConfig, "c", "canconf.yaml", "config file")
	pf.String(flagLogFile, "", "write log to file instead of stderr")
}

// loadConfig reads the config file, explicitly set flags win over it.
func loadConfig(cmd *cobra.Command, _ []string) error {
	pf := cmd.Flags()
	path, err := pf.GetString(flagConfig)
	if err != nil {
		return err
	}
	cfg, err = config.Load(path)
	if err != nil {
		return err
	}

	if pf.Changed(flagAdapter) {
		cfg.Adapter.Name, _ = pf.GetString(flagAdapter)
	}
	if pf.Changed(flagPort) || cfg.Adapter.Port == "" {
		cfg.Adapter.Port, _ = pf.GetString(flagPort)
	}
	if pf.Changed(flagBaudrate) {
		cfg.Adapter.Baudrate, _ = pf.GetInt(flagBaudrate)
	}
	if pf.Changed(flagBitrate) {
		cfg.Adapter.Bitrate, _ = pf.GetString(flagBitrate)
	}
	if pf.Changed(flagDebug) {
		cfg.Adapter.Debug, _ = pf.GetBool(flagDebug)
	}
	if pf.Changed(flagLogFile) {
		cfg.LogFile, _ = pf.GetString(flagLogFile)
	}

	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		log.SetOutput(f)
	}
	return cfg.Validate()
}
