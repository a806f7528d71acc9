package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/artemshal/DungeonCompanion/internal/config"
	"github.com/artemshal/DungeonCompanion/internal/logger"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "dungeoncompanion",
		Short: "Dungeon Companion - character overlay for your webcam",
		Long: `Dungeon Companion overlays your tabletop character sheet on a live camera
feed and publishes the result as the OBS virtual camera, so video-call apps
can pick it up like any other webcam.

Features:
  • Webcam, X11 screen region or test pattern capture
  • Character card with portrait, level, armor class and hit points
  • OBS virtual camera output through shared memory
  • Browser preview and REST API
  • Terminal monitor for the shared frame queue`,
		SilenceUsage:      true,
		PersistentPreRunE: initLogging,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/dungeoncompanion/config.yaml)")
	rootCmd.PersistentFlags().Int("port", 0, "server port (default is 8080)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("pretty", false, "human-readable console logs")

	viper.BindPFlag("server_port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("pretty", rootCmd.PersistentFlags().Lookup("pretty"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
	viper.SetEnvPrefix("DUNGEONCOMPANION")
	viper.AutomaticEnv()
}

// initLogging sets up logging from the flag before the config is read, so
// config loading is logged at the requested level
func initLogging(cmd *cobra.Command, args []string) error {
	logger.Init(viper.GetString("log_level"), viper.GetBool("pretty"))
	return nil
}

// loadConfig opens the config file. Without --log-level the logger switches
// to the configured level.
func loadConfig() (*config.Manager, error) {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if viper.GetString("log_level") == "" {
		logger.Init(configMgr.Get().LogLevel, viper.GetBool("pretty"))
	}
	return configMgr, nil
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}
