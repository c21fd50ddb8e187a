package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchTermFlagParsesKeyValuePairs(t *testing.T) {
	t.Parallel()

	cmd := &cobra.Command{}
	cmd.Flags().StringArray("search-term", nil, "")
	require := assert.New(t)
	require.NoError(cmd.Flags().Set("search-term", "productType=S2MSI1C"))
	require.NoError(cmd.Flags().Set("search-term", "orbitNumber=43212"))

	terms, err := searchTermFlag(cmd)
	require.NoError(err)
	require.Equal(map[string]interface{}{
		"productType": "S2MSI1C",
		"orbitNumber": "43212",
	}, terms)
}

func TestSearchTermFlagRejectsMissingEquals(t *testing.T) {
	t.Parallel()

	cmd := &cobra.Command{}
	cmd.Flags().StringArray("search-term", nil, "")
	assert.NoError(t, cmd.Flags().Set("search-term", "productType"))

	_, err := searchTermFlag(cmd)
	assert.Error(t, err)
}

func TestSearchTermFlagEmptyWhenUnset(t *testing.T) {
	t.Parallel()

	cmd := &cobra.Command{}
	cmd.Flags().StringArray("search-term", nil, "")

	terms, err := searchTermFlag(cmd)
	assert.NoError(t, err)
	assert.Empty(t, terms)
}

func TestProxiesFlagParsesMap(t *testing.T) {
	t.Parallel()

	cmd := &cobra.Command{}
	cmd.Flags().StringToString("proxy", nil, "")
	require := assert.New(t)
	require.NoError(cmd.Flags().Set("proxy", "https=http://proxy.example:8080"))

	proxies, err := proxiesFlag(cmd)
	require.NoError(err)
	require.Equal(map[string]string{"https": "http://proxy.example:8080"}, proxies)
}

const samplePolygonGeoJSON = `{"type":"Feature","geometry":{"type":"Polygon","coordinates":[[[0,0],[0,1],[1,1],[1,0],[0,0]]]}}`

func TestApplyGeometryFlagAddsWKTTerm(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "aoi.geojson")
	require.NoError(t, os.WriteFile(path, []byte(samplePolygonGeoJSON), 0o644))

	cmd := &cobra.Command{}
	cmd.Flags().String("geometry-geojson", "", "")
	require.NoError(t, cmd.Flags().Set("geometry-geojson", path))

	terms := map[string]interface{}{}
	require.NoError(t, applyGeometryFlag(cmd, terms))
	assert.Equal(t, "POLYGON((0 0, 0 1, 1 1, 1 0, 0 0))", terms["geometry"])
}

func TestApplyGeometryFlagNoopWhenUnset(t *testing.T) {
	t.Parallel()

	cmd := &cobra.Command{}
	cmd.Flags().String("geometry-geojson", "", "")

	terms := map[string]interface{}{}
	require.NoError(t, applyGeometryFlag(cmd, terms))
	assert.Empty(t, terms)
}

func TestApplyGeometryFlagErrorsOnMissingFile(t *testing.T) {
	t.Parallel()

	cmd := &cobra.Command{}
	cmd.Flags().String("geometry-geojson", "", "")
	require.NoError(t, cmd.Flags().Set("geometry-geojson", filepath.Join(t.TempDir(), "missing.geojson")))

	terms := map[string]interface{}{}
	assert.Error(t, applyGeometryFlag(cmd, terms))
}
