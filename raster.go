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
	"fmt"
	"math"
	"time"

	"github.com/ctessum/geom"
	"github.com/ctessum/sparse"
)

// CRSGeographic is the coordinate reference system tag attached to combined
// series. Granule grids are regular latitude/longitude grids on WGS84.
const CRSGeographic = "EPSG:4326"

// Grid holds the pixel-center coordinates of a regular geographic grid.
// Lat indexes raster rows and Lon indexes raster columns.
type Grid struct {
	Lat, Lon []float64
}

// Shape returns the number of rows and columns in the grid.
func (g Grid) Shape() (ny, nx int) { return len(g.Lat), len(g.Lon) }

// Equal returns whether g and o have exactly the same coordinates.
func (g Grid) Equal(o Grid) bool {
	return floatsIdentical(g.Lat, o.Lat) && floatsIdentical(g.Lon, o.Lon)
}

func floatsIdentical(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i, v := range a {
		if v != b[i] {
			return false
		}
	}
	return true
}

// GeoTransform maps pixel indices to geographic coordinates:
// x = X0 + col*DX and y = Y0 + row*DY, where (X0, Y0) is the outer corner
// of pixel (0, 0). DY is negative for north-up rasters.
type GeoTransform struct {
	X0, DX, Y0, DY float64
}

// Transform returns the geotransform of the grid. Spacing is the mean
// spacing between the first and last coordinate along each axis, so grids
// with fewer than two samples along an axis have zero spacing.
func (g Grid) Transform() GeoTransform {
	ny, nx := g.Shape()
	var t GeoTransform
	if nx > 1 {
		t.DX = (g.Lon[nx-1] - g.Lon[0]) / float64(nx-1)
	}
	if ny > 1 {
		t.DY = (g.Lat[ny-1] - g.Lat[0]) / float64(ny-1)
	}
	if nx > 0 {
		t.X0 = g.Lon[0] - t.DX/2
	}
	if ny > 0 {
		t.Y0 = g.Lat[0] - t.DY/2
	}
	return t
}

// Bounds returns the outer edges of a raster with ny rows and nx columns.
func (t GeoTransform) Bounds(ny, nx int) *geom.Bounds {
	x1 := t.X0 + float64(nx)*t.DX
	y1 := t.Y0 + float64(ny)*t.DY
	return &geom.Bounds{
		Min: geom.Point{X: math.Min(t.X0, x1), Y: math.Min(t.Y0, y1)},
		Max: geom.Point{X: math.Max(t.X0, x1), Y: math.Max(t.Y0, y1)},
	}
}

// Pixel returns the fractional column and row of the point (x, y).
func (t GeoTransform) Pixel(x, y float64) (col, row float64) {
	return (x - t.X0) / t.DX, (y - t.Y0) / t.DY
}

// Series is a time-indexed stack of rasters that share a single grid.
type Series struct {
	// Name is the variable the series holds.
	Name string

	// CRS is the coordinate reference system tag of Grid.
	CRS string

	Grid  Grid
	Times []time.Time

	// Data holds one [lat, lon] raster per entry in Times.
	Data []*sparse.DenseArray

	// Paths holds the source granule of each time step.
	Paths []string
}

// Len returns the number of time steps in the series.
func (s *Series) Len() int { return len(s.Times) }

// Scale divides every value in the series by factor, in place.
func (s *Series) Scale(factor float64) {
	for _, d := range s.Data {
		for i, v := range d.Elements {
			d.Elements[i] = v / factor
		}
	}
}

func checkShape(name string, a *sparse.DenseArray, ny, nx int) error {
	if len(a.Shape) != 2 || a.Shape[0] != ny || a.Shape[1] != nx {
		return fmt.Errorf("tempo: %s has shape %v; expected [%d %d]", name, a.Shape, ny, nx)
	}
	return nil
}

func sameShape(a, b *sparse.DenseArray) bool {
	if len(a.Shape) != len(b.Shape) {
		return false
	}
	for i, n := range a.Shape {
		if b.Shape[i] != n {
			return false
		}
	}
	return true
}
