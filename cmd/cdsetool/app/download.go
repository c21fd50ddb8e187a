package app

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cdsetool/cdsetool-go/pkg/collection"
	"github.com/cdsetool/cdsetool-go/pkg/credentials"
	"github.com/cdsetool/cdsetool-go/pkg/download"
	"github.com/cdsetool/cdsetool-go/pkg/httpclient"
	"github.com/cdsetool/cdsetool-go/pkg/monitor"
	"github.com/cdsetool/cdsetool-go/pkg/query"
)

func newDownloadCmd() *cobra.Command {
	var (
		concurrency       int
		overwriteExisting bool
		filterPattern     string
		filterExclude     bool
		username          string
		password          string
		quiet             bool
	)

	cmd := &cobra.Command{
		Use:   "download <collection> <path>",
		Short: "Download products matching the given search terms",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			coll, destination := args[0], args[1]

			if _, err := os.Stat(destination); err != nil {
				return fmt.Errorf("destination %q does not exist", destination)
			}

			terms, err := searchTermFlag(cmd)
			if err != nil {
				return err
			}
			if err := applyGeometryFlag(cmd, terms); err != nil {
				return err
			}
			proxies, err := proxiesFlag(cmd)
			if err != nil {
				return err
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if concurrency <= 0 {
				concurrency = cfg.DefaultConcurrency
			}

			cache := collection.New(httpclient.New(httpclient.Options{MaxRetries: httpclient.DefaultGETRetries, Proxies: proxies}))
			fq, err := query.NewFeatureQuery(cmd.Context(), cache, coll, terms, query.Options{
				ValidateSearchTerms: true,
				Proxies:             proxies,
			})
			if err != nil {
				return err
			}

			creds := credentials.New(username, password, cfg.TokenEndpoint, credentials.WithProxies(proxies))

			var mon monitor.Monitor = monitor.NoopMonitor{}
			if !quiet {
				mon = monitor.NewTerminal()
			}

			opts := download.Options{
				Credentials:       creds,
				Monitor:           mon,
				Concurrency:       concurrency,
				OverwriteExisting: overwriteExisting,
				FilterPattern:     filterPattern,
				FilterExclude:     filterExclude,
				TmpDir:            cfg.TmpDir,
			}

			total, failures := 0, 0
			for result, err := range download.DownloadFeatures(cmd.Context(), fq.All(cmd.Context()), destination, opts) {
				if err != nil {
					return err
				}
				fmt.Println(result)
				total++
				if !result.Success {
					failures++
				}
			}
			if failures > 0 {
				return fmt.Errorf("%d of %d downloads failed", failures, total)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Number of concurrent downloads (default from config)")
	cmd.Flags().BoolVar(&overwriteExisting, "overwrite-existing", false, "Re-download even if the output already exists")
	cmd.Flags().StringVar(&filterPattern, "filter-pattern", "", "Glob pattern selecting inner files for partial download")
	cmd.Flags().BoolVar(&filterExclude, "filter-exclude", false, "Invert --filter-pattern: keep files that do NOT match")
	cmd.Flags().StringVar(&username, "username", "", "CDSE username (falls back to credentials file)")
	cmd.Flags().StringVar(&password, "password", "", "CDSE password (falls back to credentials file)")
	cmd.Flags().BoolVar(&quiet, "quiet", false, "Disable the terminal progress monitor")
	cmd.Flags().StringArray("search-term", nil, "Search term as key=value, may be repeated")
	cmd.Flags().String("geometry-geojson", "", "Path to a GeoJSON polygon file used as the geometry search term")
	return cmd
}
