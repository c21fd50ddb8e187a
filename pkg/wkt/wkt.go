// Package wkt converts a GeoJSON Polygon feature into the WKT text form
// CDSE's OpenSearch "geometry" search term expects. This sits outside THE
// CORE (the specification treats shape/GeoJSON conversion as an external
// collaborator) but is kept as a small, dependency-free helper since it is
// one of the specification's listed testable properties (the round trip
// in §8, scenario 2).
package wkt

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type geoJSONFeature struct {
	Geometry geoJSONGeometry `json:"geometry"`
}

type geoJSONGeometry struct {
	Type        string          `json:"type"`
	Coordinates [][][]float64   `json:"coordinates"`
}

// PolygonFromGeoJSON parses a GeoJSON Feature (or bare Geometry) containing
// a Polygon and returns its exterior ring as WKT: "POLYGON((x y, x y, ...))".
func PolygonFromGeoJSON(data []byte) (string, error) {
	var feature geoJSONFeature
	if err := json.Unmarshal(data, &feature); err != nil {
		return "", fmt.Errorf("parsing GeoJSON: %w", err)
	}
	geom := feature.Geometry
	if geom.Type == "" {
		// Caller passed a bare geometry object rather than a Feature.
		if err := json.Unmarshal(data, &geom); err != nil {
			return "", fmt.Errorf("parsing GeoJSON geometry: %w", err)
		}
	}
	if geom.Type != "Polygon" {
		return "", fmt.Errorf("unsupported geometry type %q", geom.Type)
	}
	if len(geom.Coordinates) == 0 {
		return "", fmt.Errorf("polygon has no rings")
	}

	exterior := geom.Coordinates[0]
	points := make([]string, 0, len(exterior))
	for _, coord := range exterior {
		parts := make([]string, len(coord))
		for i, v := range coord {
			parts[i] = strconv.FormatFloat(v, 'f', -1, 64)
		}
		points = append(points, strings.Join(parts, " "))
	}

	return "POLYGON((" + strings.Join(points, ", ") + "))", nil
}
