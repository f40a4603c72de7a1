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
	"math"
	"time"

	"github.com/ctessum/geom"
	"github.com/ctessum/sparse"
)

// Tile sizes, in samples, used as the unit of work when resampling.
const (
	TileLon = 188
	TileLat = 373
)

// Chunk is a single time step of the combined measurement and cloud series.
type Chunk struct {
	Time time.Time

	// Path is the granule the time step came from.
	Path string

	Grid        Grid
	Measurement *sparse.DenseArray
	Cloud       *sparse.DenseArray

	// Bounds holds the outer pixel edges of the grid:
	// Min is (left, bottom) and Max is (right, top).
	Bounds *geom.Bounds
}

// Plan splits the combined series into one chunk per time step, in time
// order. It returns an *InvalidBoundsError if the grid has zero width or height.
func Plan(measurement, cloud *Series) ([]*Chunk, error) {
	if !timesEqual(measurement.Times, cloud.Times) {
		return nil, &TimeIndexMismatchError{Measurement: measurement.Times, Cloud: cloud.Times}
	}
	if !measurement.Grid.Equal(cloud.Grid) {
		return nil, &CoordinateMismatchError{Path: "cloud series",
			Reason: "grid differs from measurement series grid"}
	}
	ny, nx := measurement.Grid.Shape()
	b := measurement.Grid.Transform().Bounds(ny, nx)

	chunks := make([]*Chunk, measurement.Len())
	for i, t := range measurement.Times {
		if err := checkBounds(t, b); err != nil {
			return nil, err
		}
		c := &Chunk{
			Time:        t,
			Grid:        measurement.Grid,
			Measurement: measurement.Data[i],
			Cloud:       cloud.Data[i],
			Bounds:      b,
		}
		if i < len(measurement.Paths) {
			c.Path = measurement.Paths[i]
		}
		chunks[i] = c
	}
	return chunks, nil
}

func checkBounds(t time.Time, b *geom.Bounds) error {
	for _, v := range []float64{b.Min.X, b.Min.Y, b.Max.X, b.Max.Y} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &InvalidBoundsError{Time: t, Left: b.Min.X, Bottom: b.Min.Y, Right: b.Max.X, Top: b.Max.Y}
		}
	}
	if !(b.Min.X < b.Max.X) || !(b.Min.Y < b.Max.Y) {
		return &InvalidBoundsError{Time: t, Left: b.Min.X, Bottom: b.Min.Y, Right: b.Max.X, Top: b.Max.Y}
	}
	return nil
}
