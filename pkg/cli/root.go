// Package cli provides the command-line interface for Poltergeist
package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/poltergeist/poltergeist/pkg/logger"
)

// console is the shared ghost-prefixed console logger every CLI command
// helper below prints through, so the prefix/color scheme lives in one
// place instead of being re-implemented per command file.
var console = logger.NewConsoleLogger()

var (
	cfgFile     string
	projectRoot string
	verbosity   string
	version     string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "poltergeist",
	Short: "The invisible build system that haunts your code",
	Long: `👻 Poltergeist - Automatic incremental builds powered by file watching
	
Poltergeist watches your project files and automatically rebuilds targets when
changes are detected. It's like having a helpful ghost that builds your code
before you even ask!`,
	
	Run: func(cmd *cobra.Command, args []string) {
		// Check if version flag is set
		if v, _ := cmd.Flags().GetBool("version"); v {
			fmt.Printf("👻 Poltergeist v%s\n", version)
			return
		}
		// If no subcommand, show help
		cmd.Help()
	},
}

// Execute runs the CLI
func Execute(v string) error {
	version = v

	// Initialize the root command explicitly (avoiding init())
	initializeRootCommand()

	return rootCmd.Execute()
}

// ExecutePolter runs the standalone polter wrapper-runner entrypoint: a
// separate binary front-end for newPolterCmd, sharing the same
// --config/--root/--verbosity flags as the main poltergeist CLI.
func ExecutePolter() error {
	cmd := newPolterCmd()
	cmd.Use = "polter [target] [args...]"

	cobra.OnInitialize(initConfig)
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: poltergeist.config.json)")
	cmd.PersistentFlags().StringVar(&projectRoot, "root", ".", "project root directory")
	cmd.PersistentFlags().StringVarP(&verbosity, "verbosity", "v", "info", "log level (debug, info, warn, error)")

	return cmd.Execute()
}

// initializeRootCommand sets up the root command and its flags.
// This replaces the init() function to make initialization explicit and testable.
func initializeRootCommand() {
	// Set up config initialization
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: poltergeist.config.json)")
	rootCmd.PersistentFlags().StringVar(&projectRoot, "root", ".", "project root directory")
	rootCmd.PersistentFlags().StringVarP(&verbosity, "verbosity", "v", "info", "log level (debug, info, warn, error)")
	
	// Add version flag
	rootCmd.Flags().Bool("version", false, "Print version information and quit")
	
	// Add subcommands
	rootCmd.AddCommand(newWatchCmd())
	rootCmd.AddCommand(newInitCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newBuildCmd())
	rootCmd.AddCommand(newCleanCmd())
	rootCmd.AddCommand(newDaemonCmd())
	rootCmd.AddCommand(newLogsCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newVersionCmd())
}

func initConfig() {
	if cfgFile != "" {
		// Use config file from flag
		viper.SetConfigFile(cfgFile)
	} else {
		// Search for config in project root
		viper.AddConfigPath(projectRoot)
		viper.SetConfigName("poltergeist.config")
		viper.SetConfigType("json")
		
		// Also try YAML
		viper.SetConfigName("poltergeist.config")
		viper.SetConfigType("yaml")
	}

	// Read in environment variables
	viper.SetEnvPrefix("POLTERGEIST")
	viper.AutomaticEnv()

	// Read config file
	if err := viper.ReadInConfig(); err == nil {
		if verbosity == "debug" {
			fmt.Println("Using config file:", viper.ConfigFileUsed())
		}
	}
}

// Helper functions

func printSuccess(message string) { console.Success(message) }

func printError(message string) { console.Error(message) }

func printInfo(message string) { console.Info(message) }

func printWarning(message string) { console.Warn(message) }

func getConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return filepath.Join(projectRoot, "poltergeist.config.json")
}