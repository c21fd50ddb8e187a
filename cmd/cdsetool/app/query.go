package app

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cdsetool/cdsetool-go/pkg/collection"
	"github.com/cdsetool/cdsetool-go/pkg/httpclient"
	"github.com/cdsetool/cdsetool-go/pkg/query"
)

func newQueryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Inspect collections and search the catalogue",
	}
	cmd.AddCommand(newQuerySearchTermsCmd())
	cmd.AddCommand(newQuerySearchCmd())
	return cmd
}

func newQuerySearchTermsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search-terms <collection>",
		Short: "Print the search-term descriptor for a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			proxies, err := proxiesFlag(cmd)
			if err != nil {
				return err
			}
			cache := collection.New(httpclient.New(httpclient.Options{MaxRetries: httpclient.DefaultGETRetries, Proxies: proxies}))
			desc, err := cache.Describe(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, key := range desc.Keys() {
				term := desc.Terms[key]
				fmt.Printf("%s\t%s\n", term.Name, term.Title)
			}
			return nil
		},
	}
}

func newQuerySearchCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "search <collection>",
		Short: "Search the catalogue and print matching products",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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

			cache := collection.New(httpclient.New(httpclient.Options{MaxRetries: httpclient.DefaultGETRetries, Proxies: proxies}))
			fq, err := query.NewFeatureQuery(cmd.Context(), cache, args[0], terms, query.Options{
				ValidateSearchTerms: true,
				Proxies:             proxies,
			})
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			for feature := range fq.All(cmd.Context()) {
				if asJSON {
					if err := enc.Encode(feature); err != nil {
						return err
					}
					continue
				}
				fmt.Println(feature.Properties.Title)
			}
			return nil
		},
	}
	cmd.Flags().StringArray("search-term", nil, "Search term as key=value, may be repeated")
	cmd.Flags().String("geometry-geojson", "", "Path to a GeoJSON polygon file used as the geometry search term")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print full feature JSON instead of titles")
	return cmd
}
