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
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/kr/pretty"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/tempo/internal/granuletest"
)

var testStart = time.Date(2024, 3, 28, 12, 0, 0, 0, time.UTC)

func testLoader() *Loader {
	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)
	return &Loader{Layout: DefaultLayout, Policy: QualitySVS, Log: log}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	g := granuletest.Checkerboard(testStart, 4, 6)
	paths, err := granuletest.WriteAll(dir, g)
	if err != nil {
		t.Fatal(err)
	}
	r, err := testLoader().Load(paths[0])
	if err != nil {
		t.Fatal(err)
	}
	if r.Time == nil || !r.Time.Equal(testStart) {
		t.Errorf("file name time: have %v, want %v", r.Time, testStart)
	}
	if !r.CoordTime.Equal(testStart) {
		t.Errorf("coordinate time: have %v, want %v", r.CoordTime, testStart)
	}
	if diff := pretty.Diff(r.Grid, Grid{Lat: g.Lat, Lon: g.Lon}); len(diff) > 0 {
		t.Errorf("grid: %v", diff)
	}
	if r.GeospatialBounds != g.Bounds {
		t.Errorf("bounds: have %q, want %q", r.GeospatialBounds, g.Bounds)
	}
	if have := r.Mask.Count(); have != 12 {
		t.Errorf("valid pixels: have %d, want 12", have)
	}
	for i := 0; i < 4; i++ {
		for j := 0; j < 6; j++ {
			k := i*6 + j
			m, c := r.Measurement.Elements[k], r.Cloud.Elements[k]
			if (i+j)%2 == 1 {
				if !math.IsNaN(m) || !math.IsNaN(c) {
					t.Errorf("(%d, %d) should be masked: %g, %g", i, j, m, c)
				}
				continue
			}
			if m != g.NO2[k] {
				t.Errorf("measurement (%d, %d): have %g, want %g", i, j, m, g.NO2[k])
			}
			if c != float64(g.Cloud[k]) {
				t.Errorf("cloud (%d, %d): have %g, want %g", i, j, c, g.Cloud[k])
			}
		}
	}
}

func TestLoad_missingFile(t *testing.T) {
	_, err := testLoader().Load(filepath.Join(t.TempDir(), "nothing.nc"))
	var mfe *MissingFileError
	if !errors.As(err, &mfe) {
		t.Fatalf("have %v, want *MissingFileError", err)
	}
}

func TestLoad_missingField(t *testing.T) {
	dir := t.TempDir()
	paths, err := granuletest.WriteAll(dir, granuletest.Checkerboard(testStart, 2, 2))
	if err != nil {
		t.Fatal(err)
	}
	l := testLoader()
	l.Layout.CloudFraction = "support_data/cloud_fraction"
	_, err = l.Load(paths[0])
	var mfe *MissingFieldError
	if !errors.As(err, &mfe) {
		t.Fatalf("have %v, want *MissingFieldError", err)
	}
	if mfe.Field != "support_data/cloud_fraction" {
		t.Errorf("field: have %q", mfe.Field)
	}
}

func TestLoad_noTimeCoordinate(t *testing.T) {
	dir := t.TempDir()
	g := granuletest.Checkerboard(testStart, 2, 2)
	g.OmitTime = true

	// The file name time is used instead.
	path := filepath.Join(dir, granuletest.FileName(testStart, 1))
	if err := granuletest.Write(path, g); err != nil {
		t.Fatal(err)
	}
	r, err := testLoader().Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !r.CoordTime.Equal(testStart) {
		t.Errorf("have %v, want %v", r.CoordTime, testStart)
	}

	// Without either time the granule cannot be ordered.
	path = filepath.Join(dir, "granule.nc")
	if err := granuletest.Write(path, g); err != nil {
		t.Fatal(err)
	}
	if _, err := testLoader().Load(path); err == nil {
		t.Error("expected an error without any time")
	}
}

func TestFilenameTime(t *testing.T) {
	tt, err := FilenameTime("/data/TEMPO_NO2_L3_V03_20240328T120512Z_S007.nc")
	if err != nil {
		t.Fatal(err)
	}
	if want := time.Date(2024, 3, 28, 12, 5, 12, 0, time.UTC); !tt.Equal(want) {
		t.Errorf("have %v, want %v", tt, want)
	}
	if _, err := FilenameTime("granule.nc"); err == nil {
		t.Error("expected an error")
	}
	if _, err := FilenameTime("TEMPO_NO2_L3_V03_notatime_S007.nc"); err == nil {
		t.Error("expected an error")
	}
}

func TestCFTime(t *testing.T) {
	tests := []struct {
		val   float64
		units string
		want  time.Time
	}{
		{0, "seconds since 1980-01-06T00:00:00Z", time.Date(1980, 1, 6, 0, 0, 0, 0, time.UTC)},
		{1.5, "hours since 2024-03-28 00:00:00", time.Date(2024, 3, 28, 1, 30, 0, 0, time.UTC)},
		{2, "days since 2024-03-28", time.Date(2024, 3, 30, 0, 0, 0, 0, time.UTC)},
	}
	for _, test := range tests {
		have, err := cfTime(test.val, test.units)
		if err != nil {
			t.Errorf("%s: %v", test.units, err)
			continue
		}
		if !have.Equal(test.want) {
			t.Errorf("%g %s: have %v, want %v", test.val, test.units, have, test.want)
		}
	}
	for _, units := range []string{"seconds", "fortnights since 2024-03-28", "seconds since yesterday"} {
		if _, err := cfTime(0, units); err == nil {
			t.Errorf("%q: expected an error", units)
		}
	}
}
