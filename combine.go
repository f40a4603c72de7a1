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
	"sort"
	"time"

	"github.com/ctessum/sparse"
)

// MeasurementScale is the factor that measurement values are divided by
// to bring tropospheric NO2 columns (molecules/cm²) into display range.
const MeasurementScale = 1e16

// CloudScale is the factor that cloud fraction values are divided by.
const CloudScale = 1

// Raster is one time step of a single variable on a geographic grid.
type Raster struct {
	Path string
	Time time.Time
	Grid Grid
	Data *sparse.DenseArray
}

// MeasurementRaster returns the masked measurement of g.
func (g *Granule) MeasurementRaster() *Raster {
	return &Raster{Path: g.Path, Time: g.CoordTime, Grid: g.Grid, Data: g.Measurement}
}

// CloudRaster returns the masked cloud fraction of g.
func (g *Granule) CloudRaster() *Raster {
	return &Raster{Path: g.Path, Time: g.CoordTime, Grid: g.Grid, Data: g.Cloud}
}

// CombineGranules combines the measurement and cloud fraction fields of
// granules. See Combine.
func CombineGranules(granules []*Granule) (measurement, cloud *Series, err error) {
	m := make([]*Raster, len(granules))
	c := make([]*Raster, len(granules))
	for i, g := range granules {
		m[i] = g.MeasurementRaster()
		c[i] = g.CloudRaster()
	}
	return Combine(m, c)
}

// Combine merges measurement and support rasters into two time series sorted
// by time. Support raster i is placed on the coordinates of measurement
// raster i, so the two lists must be in matching order. All rasters must share
// exactly the same spatial grid. Measurement values are divided by
// MeasurementScale.
func Combine(measurements, supports []*Raster) (measurement, cloud *Series, err error) {
	if len(measurements) != len(supports) {
		return nil, nil, &TimeIndexMismatchError{
			Measurement: rasterTimes(measurements),
			Cloud:       rasterTimes(supports),
		}
	}
	aligned := make([]*Raster, len(supports))
	for i, s := range supports {
		m := measurements[i]
		ny, nx := m.Grid.Shape()
		if err := checkShape("support "+s.Path, s.Data, ny, nx); err != nil {
			return nil, nil, &CoordinateMismatchError{Path: s.Path, Reason: err.Error()}
		}
		aligned[i] = &Raster{Path: s.Path, Time: m.Time, Grid: m.Grid, Data: s.Data}
	}

	if measurement, err = combineByCoords("measurement", measurements); err != nil {
		return nil, nil, err
	}
	if cloud, err = combineByCoords("cloud_fraction", aligned); err != nil {
		return nil, nil, err
	}
	if !timesEqual(measurement.Times, cloud.Times) {
		return nil, nil, &TimeIndexMismatchError{Measurement: measurement.Times, Cloud: cloud.Times}
	}
	measurement.Scale(MeasurementScale)
	cloud.Scale(CloudScale)
	return measurement, cloud, nil
}

// combineByCoords orders rasters by time and stacks them. Input order does
// not affect the result.
func combineByCoords(name string, rasters []*Raster) (*Series, error) {
	if len(rasters) == 0 {
		return nil, fmt.Errorf("tempo: no %s rasters to combine", name)
	}
	sorted := make([]*Raster, len(rasters))
	copy(sorted, rasters)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })

	grid := sorted[0].Grid
	ny, nx := grid.Shape()
	s := &Series{
		Name: name,
		CRS:  CRSGeographic,
		Grid: grid,
	}
	for i, r := range sorted {
		if !r.Grid.Equal(grid) {
			return nil, &CoordinateMismatchError{Path: r.Path,
				Reason: fmt.Sprintf("spatial coordinates differ from those of %s", sorted[0].Path)}
		}
		if err := checkShape(r.Path, r.Data, ny, nx); err != nil {
			return nil, &CoordinateMismatchError{Path: r.Path, Reason: err.Error()}
		}
		if i > 0 && r.Time.Equal(sorted[i-1].Time) {
			return nil, &CoordinateMismatchError{Path: r.Path,
				Reason: fmt.Sprintf("time %s is also provided by %s", r.Time.Format(time.RFC3339), sorted[i-1].Path)}
		}
		s.Times = append(s.Times, r.Time)
		s.Data = append(s.Data, r.Data.Copy())
		s.Paths = append(s.Paths, r.Path)
	}
	return s, nil
}

func rasterTimes(rasters []*Raster) []time.Time {
	t := make([]time.Time, len(rasters))
	for i, r := range rasters {
		t[i] = r.Time
	}
	return t
}

func timesEqual(a, b []time.Time) bool {
	if len(a) != len(b) {
		return false
	}
	for i, t := range a {
		if !t.Equal(b[i]) {
			return false
		}
	}
	return true
}
