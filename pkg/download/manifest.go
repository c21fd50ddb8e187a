package download

import (
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/gobwas/glob"

	"github.com/cdsetool/cdsetool-go/pkg/cdseerrors"
)

// manifestFilenames maps a feature's collection to the basename of its
// inner manifest document.
var manifestFilenames = map[string]string{
	"SENTINEL-1": "manifest.safe",
	"SENTINEL-2": "manifest.safe",
	"SENTINEL-3": "manifest.xml",
}

// parseManifest reads a manifest document (manifest.safe, or
// manifest.xml/xfdumanifest.xml for SENTINEL-3) and returns the
// document-order list of relative paths it contains, filtered by pattern:
// a path is kept iff its glob match equals !exclude.
func parseManifest(r io.Reader, manifestFilename, pattern string, exclude bool) ([]string, error) {
	var paths []string
	var err error
	switch manifestFilename {
	case "manifest.safe":
		paths, err = parseSafeManifest(r)
	case "manifest.xml", "xfdumanifest.xml":
		paths, err = parseSentinel3Manifest(r)
	default:
		return nil, cdseerrors.New(cdseerrors.TypeManifestParseError, fmt.Sprintf("unrecognised manifest filename %q", manifestFilename))
	}
	if err != nil {
		return nil, cdseerrors.Wrap(cdseerrors.TypeManifestParseError, manifestFilename, err)
	}

	// No separator argument: CDSE's nodefilter semantics mirror Python's
	// fnmatch, where "*" matches across "/" just like any other
	// character.
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, cdseerrors.Wrap(cdseerrors.TypeManifestParseError, pattern, err)
	}

	filtered := make([]string, 0, len(paths))
	for _, p := range paths {
		match := g.Match(p)
		if match != exclude {
			filtered = append(filtered, p)
		}
	}
	return filtered, nil
}

// safeManifest models just enough of manifest.safe's dataObjectSection to
// pull out each dataObject's file location.
type safeManifest struct {
	DataObjectSection struct {
		DataObjects []struct {
			ByteStream struct {
				FileLocation struct {
					Href string `xml:"href,attr"`
				} `xml:"fileLocation"`
			} `xml:"byteStream"`
		} `xml:"dataObject"`
	} `xml:"dataObjectSection"`
}

func parseSafeManifest(r io.Reader) ([]string, error) {
	var m safeManifest
	if err := xml.NewDecoder(r).Decode(&m); err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(m.DataObjectSection.DataObjects))
	for _, obj := range m.DataObjectSection.DataObjects {
		if href := obj.ByteStream.FileLocation.Href; href != "" {
			paths = append(paths, href)
		}
	}
	return paths, nil
}

// sentinel3Manifest models the SIP-namespaced dataSection of a SENTINEL-3
// xfdumanifest.xml / manifest.xml document.
type sentinel3Manifest struct {
	DataSection struct {
		DataObjects []struct {
			Path string `xml:"http://www.eumetsat.int/sip path"`
		} `xml:"http://www.eumetsat.int/sip dataObject"`
	} `xml:"http://www.eumetsat.int/sip dataSection"`
}

func parseSentinel3Manifest(r io.Reader) ([]string, error) {
	var m sentinel3Manifest
	if err := xml.NewDecoder(r).Decode(&m); err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(m.DataSection.DataObjects))
	for _, obj := range m.DataSection.DataObjects {
		p := strings.TrimSpace(obj.Path)
		if p == "" {
			continue
		}
		// Keep only the final path component: the SIP manifest prefixes
		// each entry with the product name, which DownloadFeature's
		// caller already knows.
		paths = append(paths, path.Base(p))
	}
	return paths, nil
}
