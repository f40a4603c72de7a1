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
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ctessum/sparse"
	"github.com/sirupsen/logrus"
)

// FilenameTimeFormat is the layout of the acquisition timestamp embedded in
// granule file names, e.g. TEMPO_NO2_L3_V03_20240328T120000Z_S001.nc.
const FilenameTimeFormat = "20060102T150405Z"

// Layout holds the names of the variables read from a granule. Variables in
// a group are named "<group>/<variable>"; files without groups may also
// store that qualified name at the root.
type Layout struct {
	Latitude, Longitude, Time string

	Measurement   string
	QualityFlag   string
	SolarZenith   string
	CloudFraction string
}

// DefaultLayout is the variable layout of TEMPO level 3 NO2 granules.
var DefaultLayout = Layout{
	Latitude:      "latitude",
	Longitude:     "longitude",
	Time:          "time",
	Measurement:   "product/vertical_column_troposphere",
	QualityFlag:   "product/main_data_quality_flag",
	SolarZenith:   "geolocation/solar_zenith_angle",
	CloudFraction: "support_data/eff_cloud_fraction",
}

// Granule is the quality-masked content of a single source file.
type Granule struct {
	Path string

	// Time is the acquisition time parsed from the file name, or nil if
	// the file name does not contain one.
	Time *time.Time

	// CoordTime is the value of the time coordinate, which orders the
	// granule when series are combined.
	CoordTime time.Time

	Grid Grid

	// Measurement and Cloud are [lat, lon] rasters with NaN where Mask
	// is false.
	Measurement, Cloud *sparse.DenseArray
	Mask               *Mask

	// GeospatialBounds is the granule footprint as a WKT polygon in
	// (lat lon) axis order.
	GeospatialBounds string
}

// Loader reads granules.
type Loader struct {
	Layout Layout
	Policy QualityPolicy
	Log    logrus.FieldLogger
}

// FilenameTime returns the acquisition time embedded in the file name at
// path: the second-to-last underscore-delimited token.
func FilenameTime(path string) (time.Time, error) {
	parts := strings.Split(filepath.Base(path), "_")
	if len(parts) < 2 {
		return time.Time{}, fmt.Errorf("tempo: no timestamp in file name %s", path)
	}
	t, err := time.Parse(FilenameTimeFormat, parts[len(parts)-2])
	if err != nil {
		return time.Time{}, fmt.Errorf("tempo: parsing timestamp in file name %s: %v", path, err)
	}
	return t.UTC(), nil
}

// Load reads the granule at path and applies the quality mask.
func (l *Loader) Load(path string) (*Granule, error) {
	log := l.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, &MissingFileError{Path: path, Err: err}
		}
		return nil, fmt.Errorf("tempo: opening granule %s: %v", path, err)
	}
	ff, closeFile, err := openGranule(path)
	if err != nil {
		return nil, fmt.Errorf("tempo: opening granule %s: %v", path, err)
	}
	defer closeFile()

	g := &Granule{Path: path}
	if t, err := FilenameTime(path); err != nil {
		log.WithField("file", path).Warnf("%v; granule will be ordered by its time coordinate only", err)
	} else {
		g.Time = &t
	}

	lat, err := readVector(ff, path, l.Layout.Latitude)
	if err != nil {
		return nil, err
	}
	lon, err := readVector(ff, path, l.Layout.Longitude)
	if err != nil {
		return nil, err
	}
	g.Grid = Grid{Lat: lat, Lon: lon}
	ny, nx := g.Grid.Shape()

	if g.CoordTime, err = readTime(ff, path, l.Layout.Time); err != nil {
		if g.Time == nil {
			return nil, err
		}
		log.WithField("file", path).Debugf("%v; using file name time", err)
		g.CoordTime = *g.Time
	}

	var fields [4]*sparse.DenseArray
	for i, name := range []string{l.Layout.Measurement, l.Layout.QualityFlag,
		l.Layout.SolarZenith, l.Layout.CloudFraction} {
		if fields[i], err = readRaster(ff, path, name, ny, nx); err != nil {
			return nil, err
		}
	}
	measurement, flag, sza, cloud := fields[0], fields[1], fields[2], fields[3]

	if g.Mask, err = NewMask(sza, flag, cloud, l.Policy); err != nil {
		return nil, fmt.Errorf("%v (granule %s)", err, path)
	}
	if g.Measurement, err = g.Mask.Apply(measurement); err != nil {
		return nil, err
	}
	if g.Cloud, err = g.Mask.Apply(cloud); err != nil {
		return nil, err
	}

	if b, ok := ff.attribute("geospatial_bounds"); ok {
		g.GeospatialBounds = strings.TrimRight(attrString(b), "\x00")
	}

	log.WithFields(logrus.Fields{
		"file":  filepath.Base(path),
		"time":  g.CoordTime.Format(time.RFC3339),
		"valid": g.Mask.Count(),
		"total": len(g.Mask.Valid),
	}).Debug("loaded granule")
	return g, nil
}

// readVariable reads all of variable v and decodes it to float64,
// applying the CF _FillValue, scale_factor and add_offset attributes.
func readVariable(ff ncGroup, path, v string) (*ncVar, error) {
	nv, err := lookupVariable(ff, v)
	if err != nil {
		return nil, &MissingFieldError{Path: path, Field: v}
	}
	fill, hasFill := attrFloat(nv.attrs, "_FillValue")
	scale, hasScale := attrFloat(nv.attrs, "scale_factor")
	offset, hasOffset := attrFloat(nv.attrs, "add_offset")
	for i, val := range nv.values {
		if hasFill && val == fill {
			nv.values[i] = nan
			continue
		}
		if hasScale {
			val *= scale
		}
		if hasOffset {
			val += offset
		}
		nv.values[i] = val
	}
	return nv, nil
}

func readVector(ff ncGroup, path, v string) ([]float64, error) {
	nv, err := readVariable(ff, path, v)
	if err != nil {
		return nil, err
	}
	if len(nv.dims) != 1 {
		return nil, fmt.Errorf("tempo: coordinate %s of %s has %d dimensions; expected 1", v, path, len(nv.dims))
	}
	return nv.values, nil
}

// readRaster reads a variable whose last two dimensions are latitude and
// longitude. Any leading dimensions must have length 1.
func readRaster(ff ncGroup, path, v string, ny, nx int) (*sparse.DenseArray, error) {
	nv, err := readVariable(ff, path, v)
	if err != nil {
		return nil, err
	}
	data, dims := nv.values, nv.dims
	if len(dims) < 2 || dims[len(dims)-2] != ny || dims[len(dims)-1] != nx || len(data) != ny*nx {
		return nil, &CoordinateMismatchError{Path: path,
			Reason: fmt.Sprintf("variable %s has dimensions %v; expected [... %d %d] with one time step", v, dims, ny, nx)}
	}
	out := sparse.ZerosDense(ny, nx)
	copy(out.Elements, data)
	return out, nil
}

// readTime reads the single value of the time coordinate and converts it
// using the CF "<units> since <reference>" convention.
func readTime(ff ncGroup, path, v string) (time.Time, error) {
	nv, err := readVariable(ff, path, v)
	if err != nil {
		return time.Time{}, err
	}
	if len(nv.values) != 1 {
		return time.Time{}, fmt.Errorf("tempo: time coordinate of %s has %d values; expected 1", path, len(nv.values))
	}
	units := attrString(nv.attrs["units"])
	return cfTime(nv.values[0], strings.TrimRight(units, "\x00"))
}

var cfReferenceFormats = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

func cfTime(val float64, units string) (time.Time, error) {
	parts := strings.SplitN(units, " since ", 2)
	if len(parts) != 2 {
		return time.Time{}, fmt.Errorf("tempo: invalid time units %q", units)
	}
	var unit time.Duration
	switch strings.ToLower(strings.TrimSpace(parts[0])) {
	case "milliseconds", "millisecond", "ms":
		unit = time.Millisecond
	case "seconds", "second", "secs", "sec", "s":
		unit = time.Second
	case "minutes", "minute", "mins", "min":
		unit = time.Minute
	case "hours", "hour", "hrs", "hr", "h":
		unit = time.Hour
	case "days", "day", "d":
		unit = 24 * time.Hour
	default:
		return time.Time{}, fmt.Errorf("tempo: invalid time unit %q", parts[0])
	}
	refStr := strings.TrimSpace(parts[1])
	for _, layout := range cfReferenceFormats {
		if ref, err := time.Parse(layout, refStr); err == nil {
			whole := math.Floor(val)
			d := time.Duration(whole)*unit + time.Duration((val-whole)*float64(unit))
			return ref.Add(d).UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("tempo: invalid time reference %q", refStr)
}
