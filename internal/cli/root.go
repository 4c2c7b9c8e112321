// Package cli implements the pairctl commands.
package cli

import (
	"context"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/iammorganparry/clive/apps/remote/internal/client"
	"github.com/iammorganparry/clive/apps/remote/internal/ui"
)

const requestTimeout = 30 * time.Second

var (
	version = "dev"
	cfgFile string
	noColor bool
)

// SetVersion sets the version string (called from main).
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "pairctl",
	Short: "Control the mobile pairing broker",
	Long: `pairctl drives a running broker over its control API.

Get started:
  pairctl pin         Arm the mobile endpoint and issue a pairing PIN
  pairctl state       Show the current broker state
  pairctl watch       Follow state changes live
  pairctl disconnect  Drop every mobile and disarm the endpoint`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml)")
	rootCmd.PersistentFlags().String("broker-url", client.DefaultBrokerURL, "broker control API URL (env BROKER_URL)")
	rootCmd.PersistentFlags().String("api-key", "", "control API key (env API_KEY)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	viper.BindPFlag("broker_url", rootCmd.PersistentFlags().Lookup("broker-url"))
	viper.BindPFlag("api_key", rootCmd.PersistentFlags().Lookup("api-key"))
	viper.BindEnv("broker_url", "BROKER_URL")
	viper.BindEnv("api_key", "API_KEY")

	rootCmd.Version = version
	rootCmd.SetVersionTemplate("pairctl version {{.Version}}\n")
}

func initConfig() {
	if noColor {
		color.NoColor = true
	}
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			ui.Warning("could not read config file: " + err.Error())
		}
	}
}

// newClient builds a control API client from flags, env, and config.
func newClient() *client.Client {
	return client.New(viper.GetString("broker_url"), viper.GetString("api_key"))
}

func requestContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, requestTimeout)
}
