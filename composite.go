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

	"github.com/ctessum/sparse"
)

// Composite applies a cloud mask to a reprojected measurement raster.
// A pixel is cloudy where cloud > threshold. If invert is false, cloudy
// pixels are set to NaN; if invert is true, clear pixels are set to NaN so
// that only clouds remain. A NaN cloud fraction counts as clear.
func Composite(measurement, cloud *sparse.DenseArray, threshold float64, invert bool) (*sparse.DenseArray, error) {
	if !sameShape(measurement, cloud) {
		return nil, fmt.Errorf("tempo: composite: measurement shape %v does not match cloud shape %v",
			measurement.Shape, cloud.Shape)
	}
	out := measurement.Copy()
	for i, c := range cloud.Elements {
		if (c > threshold) != invert {
			out.Elements[i] = nan
		}
	}
	return out, nil
}

// CompositePair applies Composite to each resolution of a pair, using the
// cloud raster of the same resolution.
func CompositePair(measurement, cloud *RasterPair, threshold float64, invert bool) (full, half *sparse.DenseArray, err error) {
	if full, err = Composite(measurement.Full, cloud.Full, threshold, invert); err != nil {
		return nil, nil, err
	}
	if half, err = Composite(measurement.Half, cloud.Half, threshold, invert); err != nil {
		return nil, nil, err
	}
	return full, half, nil
}
