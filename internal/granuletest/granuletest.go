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

// Package granuletest writes small synthetic granules in the layout of
// TEMPO level 3 NO2 files, for use in tests.
package granuletest

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ctessum/cdf"
)

// TimeUnits is the units attribute of the time coordinate.
const TimeUnits = "seconds since 1980-01-06T00:00:00Z"

var timeEpoch = time.Date(1980, 1, 6, 0, 0, 0, 0, time.UTC)

// FillValue marks missing measurement and cloud fraction values.
const FillValue = -1e30

// Granule is the content of a synthetic granule. Rasters are stored
// row-major with len(Lat) rows and len(Lon) columns.
type Granule struct {
	Time     time.Time
	Lat, Lon []float64

	// NO2 is the tropospheric column in molecules/cm².
	NO2   []float64
	Flag  []int16
	SZA   []float32
	Cloud []float32

	// Bounds is the WKT footprint in (lat lon) axis order.
	Bounds string

	// OmitTime leaves out the time coordinate variable.
	OmitTime bool
}

// FileName returns a TEMPO-style file name for a granule at time t.
func FileName(t time.Time, scan int) string {
	return fmt.Sprintf("TEMPO_NO2_L3_V03_%s_S%03d.nc", t.UTC().Format("20060102T150405Z"), scan)
}

// Checkerboard returns an ny by nx granule whose quality flag alternates
// between 0 (good) and 2 (bad) in a checkerboard pattern. Pixel centers are
// at 30.25 + 0.5*row degrees latitude and -99.75 + 0.5*column degrees
// longitude, so the grid edges are 30, 30+ny/2, -100 and -100+nx/2. Cloud
// fraction is 0.8 in the first row and 0.1 elsewhere.
func Checkerboard(t time.Time, ny, nx int) *Granule {
	g := &Granule{
		Time:  t,
		Lat:   make([]float64, ny),
		Lon:   make([]float64, nx),
		NO2:   make([]float64, ny*nx),
		Flag:  make([]int16, ny*nx),
		SZA:   make([]float32, ny*nx),
		Cloud: make([]float32, ny*nx),
	}
	for i := range g.Lat {
		g.Lat[i] = 30.25 + 0.5*float64(i)
	}
	for j := range g.Lon {
		g.Lon[j] = -99.75 + 0.5*float64(j)
	}
	for i := 0; i < ny; i++ {
		for j := 0; j < nx; j++ {
			k := i*nx + j
			g.NO2[k] = (0.1 + 0.01*float64(k)) * 1e16
			g.Flag[k] = int16(2 * ((i + j) % 2))
			g.SZA[k] = 30
			g.Cloud[k] = 0.1
			if i == 0 {
				g.Cloud[k] = 0.8
			}
		}
	}
	top, right := 30+0.5*float64(ny), -100+0.5*float64(nx)
	g.Bounds = fmt.Sprintf("POLYGON((30 -100,%g -100,%g %g,30 %g,30 -100))", top, top, right, right)
	return g
}

// Write writes g as a netCDF file at path.
func Write(path string, g *Granule) error {
	ny, nx := len(g.Lat), len(g.Lon)
	h := cdf.NewHeader([]string{"time", "latitude", "longitude"}, []int{1, ny, nx})
	grid := []string{"time", "latitude", "longitude"}
	if !g.OmitTime {
		h.AddVariable("time", []string{"time"}, []float64{0})
		h.AddAttribute("time", "units", TimeUnits)
	}
	h.AddVariable("latitude", []string{"latitude"}, []float32{0})
	h.AddVariable("longitude", []string{"longitude"}, []float32{0})
	h.AddVariable("product/vertical_column_troposphere", grid, []float64{0})
	h.AddAttribute("product/vertical_column_troposphere", "_FillValue", []float64{FillValue})
	h.AddVariable("product/main_data_quality_flag", grid, []int16{0})
	h.AddVariable("geolocation/solar_zenith_angle", grid, []float32{0})
	h.AddVariable("support_data/eff_cloud_fraction", grid, []float32{0})
	h.AddAttribute("support_data/eff_cloud_fraction", "_FillValue", []float32{FillValue})
	h.AddAttribute("", "geospatial_bounds", g.Bounds)
	h.Define()
	if errs := h.Check(); len(errs) > 0 {
		return fmt.Errorf("granuletest: invalid header: %v", errs)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	ff, err := cdf.Create(f, h)
	if err != nil {
		return err
	}

	lat := make([]float32, ny)
	for i, v := range g.Lat {
		lat[i] = float32(v)
	}
	lon := make([]float32, nx)
	for i, v := range g.Lon {
		lon[i] = float32(v)
	}
	data := []struct {
		name string
		val  interface{}
	}{
		{"latitude", lat},
		{"longitude", lon},
		{"product/vertical_column_troposphere", g.NO2},
		{"product/main_data_quality_flag", g.Flag},
		{"geolocation/solar_zenith_angle", g.SZA},
		{"support_data/eff_cloud_fraction", g.Cloud},
	}
	if !g.OmitTime {
		data = append(data, struct {
			name string
			val  interface{}
		}{"time", []float64{g.Time.Sub(timeEpoch).Seconds()}})
	}
	for _, d := range data {
		// The writer reports io.EOF once a fixed-length variable is full.
		if _, err := ff.Writer(d.name, nil, nil).Write(d.val); err != nil && err != io.EOF {
			return fmt.Errorf("granuletest: writing %s: %v", d.name, err)
		}
	}
	return f.Close()
}

// WriteAll writes each granule into dir under its FileName and returns the
// paths.
func WriteAll(dir string, granules ...*Granule) ([]string, error) {
	paths := make([]string, len(granules))
	for i, g := range granules {
		paths[i] = filepath.Join(dir, FileName(g.Time, i+1))
		if err := Write(paths[i], g); err != nil {
			return nil, err
		}
	}
	return paths, nil
}
