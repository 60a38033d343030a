// Package cmd wires the command line interface.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/wayfareapp/wayfare-go/cmd/index"
	"github.com/wayfareapp/wayfare-go/cmd/serve"
	"github.com/wayfareapp/wayfare-go/internal/conf"
)

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "wayfare",
		Short: "Wayfare safety index service",
	}

	if err := setupFlags(rootCmd, settings); err != nil {
		// Flag binding only fails on programming errors
		panic(err)
	}

	rootCmd.AddCommand(
		serve.Command(settings),
		index.Command(settings),
	)

	return rootCmd
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	rootCmd.PersistentFlags().StringVarP(&settings.WebServer.Port, "port", "p", viper.GetString("webserver.port"), "Port for the HTTP API server")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}

	return nil
}
