package download

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOdataNodeURL(t *testing.T) {
	t.Parallel()

	got := odataNodeURL("a6215824-9b6e-4a43-8e1f-0123456789ab", "S2B_MSIL1C_...SAFE", "path/to/resource.xml")
	want := "https://download.dataspace.copernicus.eu/odata/v1/Products(a6215824-9b6e-4a43-8e1f-0123456789ab)" +
		"/Nodes(S2B_MSIL1C_...SAFE)/Nodes(path)/Nodes(to)/Nodes(resource.xml)/$value"

	assert.Equal(t, want, got)
}

func TestOdataNodeURLSingleSegment(t *testing.T) {
	t.Parallel()

	got := odataNodeURL("feature-id", "title", "manifest.safe")
	want := "https://download.dataspace.copernicus.eu/odata/v1/Products(feature-id)/Nodes(title)/Nodes(manifest.safe)/$value"

	assert.Equal(t, want, got)
}
