package download

import "strings"

// ProductsURLTemplate is the CDSE OData product collection endpoint.
const ProductsURLTemplate = "https://download.dataspace.copernicus.eu/odata/v1/Products(%s)"

// odataNodeURL assembles the OData node URL for a file at relativePath
// inside a product's bundle: one Nodes(...) segment per path component,
// rooted at the product title, suffixed with /$value to request bytes.
//
// Example: featureID "a6215824-...", title "S2B_MSIL1C_...SAFE", relativePath
// "path/to/resource.xml" ->
// .../Products(a6215824-...)/Nodes(S2B_MSIL1C_...SAFE)/Nodes(path)/Nodes(to)/Nodes(resource.xml)/$value
func odataNodeURL(featureID, title, relativePath string) string {
	var b strings.Builder
	b.WriteString("https://download.dataspace.copernicus.eu/odata/v1/Products(")
	b.WriteString(featureID)
	b.WriteString(")/Nodes(")
	b.WriteString(title)
	b.WriteString(")")
	for _, seg := range strings.Split(relativePath, "/") {
		if seg == "" {
			continue
		}
		b.WriteString("/Nodes(")
		b.WriteString(seg)
		b.WriteString(")")
	}
	b.WriteString("/$value")
	return b.String()
}
