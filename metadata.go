/*
Copyright © 2024 the tempo authors.
This file is part of tempo.

tempo is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

tempo is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with tempo.  If not, see <http://www.gnu.org/licenses/>.
*/

package tempo

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/geojson"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
)

// BoundsFileName returns the name of the bounds text file.
func BoundsFileName(name, runID string) string {
	return fmt.Sprintf("bounds_%s_%s.npy", name, runID)
}

// FieldOfRegardFileName returns the name of the granule footprint file.
func FieldOfRegardFileName(name, runID string) string {
	return fmt.Sprintf("bounds_%s_geojson_%s.json", name, runID)
}

// TimesFileName returns the name of the times text file.
func TimesFileName(name, suffix, runID string) string {
	return fmt.Sprintf("times_%s%s_%s.npy", name, suffix, runID)
}

// JSTime returns t truncated to the minute as milliseconds since the Unix
// epoch, the time representation used by the web map.
func JSTime(t time.Time) int64 {
	return t.UTC().Truncate(time.Minute).UnixMilli()
}

// formatFloat formats v so that integral values keep a decimal point.
func formatFloat(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}

// BoundsText returns the content of the bounds file: the four edges of b
// followed by a Leaflet LatLngBounds literal.
func BoundsText(b *geom.Bounds) string {
	lonMin, lonMax := formatFloat(b.Min.X), formatFloat(b.Max.X)
	latMin, latMax := formatFloat(b.Min.Y), formatFloat(b.Max.Y)
	lines := []string{
		"lon_min: " + lonMin,
		"lon_max: " + lonMax,
		"lat_min: " + latMin,
		"lat_max: " + latMax,
	}
	return strings.Join(lines, "\n") +
		fmt.Sprintf("\nL.LatLngBounds(L.LatLng(%s,%s), L.LatLng(%s,%s))", latMin, lonMin, latMax, lonMax)
}

// TimesText returns a bracketed, comma separated list of the sorted
// JSTime values of times.
func TimesText(times []time.Time) string {
	ms := make([]int64, len(times))
	for i, t := range times {
		ms[i] = JSTime(t)
	}
	sort.Slice(ms, func(i, j int) bool { return ms[i] < ms[j] })
	s := make([]string, len(ms))
	for i, v := range ms {
		s[i] = strconv.FormatInt(v, 10)
	}
	return "[" + strings.Join(s, ", ") + "]"
}

// FieldOfRegard is the GeoJSON footprint of one granule.
type FieldOfRegard struct {
	Type       string              `json:"type"`
	Geometries []*geojson.Geometry `json:"geometries"`
}

// NewFieldOfRegard converts a WKT footprint in (lat lon) axis order into a
// GeoJSON geometry collection in (lon lat) order. An empty footprint gives an
// empty collection.
func NewFieldOfRegard(footprint string) (*FieldOfRegard, error) {
	f := &FieldOfRegard{Type: "GeometryCollection", Geometries: []*geojson.Geometry{}}
	if strings.TrimSpace(footprint) == "" {
		return f, nil
	}
	g, err := wkt.Unmarshal(footprint)
	if err != nil {
		return nil, fmt.Errorf("tempo: parsing geospatial bounds %q: %v", footprint, err)
	}
	var polys []geom.Polygon
	switch t := g.(type) {
	case orb.Polygon:
		polys = append(polys, swapPolygon(t))
	case orb.MultiPolygon:
		// Each part becomes its own polygon in the collection.
		for _, p := range t {
			polys = append(polys, swapPolygon(p))
		}
	default:
		return nil, fmt.Errorf("tempo: geospatial bounds must be a polygon, not %s", g.GeoJSONType())
	}
	for _, p := range polys {
		gj, err := geojson.ToGeoJSON(p)
		if err != nil {
			return nil, fmt.Errorf("tempo: encoding geospatial bounds: %v", err)
		}
		f.Geometries = append(f.Geometries, gj)
	}
	return f, nil
}

func swapPolygon(p orb.Polygon) geom.Polygon {
	out := make(geom.Polygon, len(p))
	for i, ring := range p {
		pts := make([]geom.Point, len(ring))
		for j, pt := range ring {
			// WKT footprints list latitude first.
			pts[j] = geom.Point{X: pt[1], Y: pt[0]}
		}
		out[i] = pts
	}
	return out
}

// Metadata is the auxiliary information written alongside the images.
type Metadata struct {
	Bounds     *geom.Bounds
	Footprints []string
	Times      []time.Time
}

// Write writes the bounds, field of regard and times files into dir.
func (m *Metadata) Write(dir, name, suffix, runID string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("tempo: creating directory %s: %w", dir, err)
	}
	fors := make([]*FieldOfRegard, len(m.Footprints))
	for i, fp := range m.Footprints {
		f, err := NewFieldOfRegard(fp)
		if err != nil {
			return err
		}
		fors[i] = f
	}
	forJSON, err := json.Marshal(fors)
	if err != nil {
		return fmt.Errorf("tempo: encoding field of regard: %v", err)
	}
	files := []struct {
		name string
		data []byte
	}{
		{BoundsFileName(name, runID), []byte(BoundsText(m.Bounds))},
		{FieldOfRegardFileName(name, runID), forJSON},
		{TimesFileName(name, suffix, runID), []byte(TimesText(m.Times))},
	}
	for _, f := range files {
		path := filepath.Join(dir, f.name)
		if err := writeFileIfChanged(path, f.data); err != nil {
			return err
		}
	}
	return nil
}

// writeFileIfChanged leaves path untouched if it already holds data.
func writeFileIfChanged(path string, data []byte) error {
	if old, err := os.ReadFile(path); err == nil && bytes.Equal(old, data) {
		return nil
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("tempo: writing %s: %w", path, err)
	}
	return nil
}
