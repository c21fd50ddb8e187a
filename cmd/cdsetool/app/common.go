package app

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cdsetool/cdsetool-go/pkg/config"
	"github.com/cdsetool/cdsetool-go/pkg/wkt"
)

// searchTermFlag collects repeated --search-term k=v flags into a map
// suitable for query.NewFeatureQuery.
func searchTermFlag(cmd *cobra.Command) (map[string]interface{}, error) {
	raw, err := cmd.Flags().GetStringArray("search-term")
	if err != nil {
		return nil, err
	}
	terms := make(map[string]interface{}, len(raw))
	for _, kv := range raw {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid --search-term %q, expected key=value", kv)
		}
		terms[parts[0]] = parts[1]
	}
	return terms, nil
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = viper.GetString("config")
	}
	return config.Load(path)
}

func proxiesFlag(cmd *cobra.Command) (map[string]string, error) {
	return cmd.Flags().GetStringToString("proxy")
}

// applyGeometryFlag reads --geometry-geojson (if set), converts its GeoJSON
// polygon to WKT, and adds it to terms under the "geometry" search-term key.
func applyGeometryFlag(cmd *cobra.Command, terms map[string]interface{}) error {
	path, err := cmd.Flags().GetString("geometry-geojson")
	if err != nil || path == "" {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading --geometry-geojson %q: %w", path, err)
	}
	geom, err := wkt.PolygonFromGeoJSON(data)
	if err != nil {
		return fmt.Errorf("converting %q to WKT: %w", path, err)
	}
	terms["geometry"] = geom
	return nil
}
