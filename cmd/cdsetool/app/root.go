// Package app wires the cdsetool CLI's cobra command tree: persistent
// --config/--debug flags bound through viper, and the query/download
// subcommands built on top of pkg/collection, pkg/query, and
// pkg/download.
package app

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cdsetool/cdsetool-go/pkg/logger"
)

// NewRootCmd builds the cdsetool root command and its full subcommand
// tree.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "cdsetool",
		DisableAutoGenTag: true,
		Short:             "Search and download Copernicus Data Space Ecosystem products",
		Long: `cdsetool searches the Copernicus Data Space Ecosystem (CDSE) catalogue and
downloads matching products, optionally descending into a product's
manifest to fetch only a filtered subset of its inner files.`,
		Run: func(cmd *cobra.Command, _ []string) {
			if err := cmd.Help(); err != nil {
				logger.Errorf("error displaying help: %v", err)
			}
		},
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			if debug, _ := cmd.Flags().GetBool("debug"); debug {
				_ = os.Setenv("CDSETOOL_DEBUG", "1")
			}
			logger.Initialize()
		},
	}

	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().String("config", "", "Path to config file (default: XDG config dir)")
	rootCmd.PersistentFlags().StringToString("proxy", nil, "Scheme->URL proxy overrides, e.g. https=http://proxy:8080")

	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Errorf("error binding debug flag: %v", err)
	}
	if err := viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config")); err != nil {
		logger.Errorf("error binding config flag: %v", err)
	}

	rootCmd.AddCommand(newQueryCmd())
	rootCmd.AddCommand(newDownloadCmd())

	rootCmd.SilenceUsage = true
	return rootCmd
}
