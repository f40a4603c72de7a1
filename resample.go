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
	"sort"

	"github.com/ctessum/sparse"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Resampling is the method used to compute a destination pixel from the
// source pixels it covers.
type Resampling int

// The supported resampling methods.
const (
	// Average is the overlap-weighted mean of the covered source pixels.
	Average Resampling = iota

	// Nearest takes the source pixel containing the destination pixel center.
	Nearest

	// Bilinear interpolates between the four nearest source pixel centers.
	Bilinear

	// Cubic is cubic convolution over the sixteen nearest source pixels.
	Cubic

	// Median is the median of the covered source pixels.
	Median

	// Sum is the overlap-weighted sum of the covered source pixels.
	Sum
)

func (r Resampling) String() string {
	switch r {
	case Average:
		return "average"
	case Nearest:
		return "nearest"
	case Bilinear:
		return "bilinear"
	case Cubic:
		return "cubic"
	case Median:
		return "med"
	case Sum:
		return "sum"
	default:
		return fmt.Sprintf("Resampling(%d)", int(r))
	}
}

// kernel computes destination pixel (i, j). NaN source pixels are ignored;
// the result is NaN when no valid source pixel contributes.
type kernel func(src *sparse.DenseArray, m *sourceMap, i, j int, s *scratch) float64

// scratch holds buffers reused between pixels by a single goroutine.
type scratch struct {
	v, w []float64
}

func (s *scratch) reset() {
	s.v = s.v[:0]
	s.w = s.w[:0]
}

func (s *scratch) add(v, w float64) {
	s.v = append(s.v, v)
	s.w = append(s.w, w)
}

func (r Resampling) kernel() kernel {
	switch r {
	case Nearest:
		return nearest
	case Bilinear:
		return bilinear
	case Cubic:
		return cubic
	case Median:
		return areaKernel(median)
	case Sum:
		return areaKernel(weightedSum)
	default:
		return areaKernel(weightedMean)
	}
}

func nearest(src *sparse.DenseArray, m *sourceMap, i, j int, _ *scratch) float64 {
	ny, nx := src.Shape[0], src.Shape[1]
	c, r := m.colCenter[j], m.rowCenter[i]
	if c < 0 || r < 0 || c >= float64(nx) || r >= float64(ny) {
		return nan
	}
	return src.Elements[int(r)*nx+int(c)]
}

func bilinear(src *sparse.DenseArray, m *sourceMap, i, j int, s *scratch) float64 {
	return interpolate(src, m.colCenter[j], m.rowCenter[i], 1, func(d float64) float64 {
		return 1 - math.Abs(d)
	}, s)
}

// cubicA is the cubic convolution parameter.
const cubicA = -0.5

func cubic(src *sparse.DenseArray, m *sourceMap, i, j int, s *scratch) float64 {
	return interpolate(src, m.colCenter[j], m.rowCenter[i], 2, func(d float64) float64 {
		d = math.Abs(d)
		switch {
		case d <= 1:
			return (cubicA+2)*d*d*d - (cubicA+3)*d*d + 1
		case d < 2:
			return cubicA*d*d*d - 5*cubicA*d*d + 8*cubicA*d - 4*cubicA
		default:
			return 0
		}
	}, s)
}

// interpolate evaluates a separable interpolation kernel with the given
// radius at fractional source position (c, r).
func interpolate(src *sparse.DenseArray, c, r float64, radius int, weight func(float64) float64, s *scratch) float64 {
	ny, nx := src.Shape[0], src.Shape[1]
	if c < 0 || r < 0 || c >= float64(nx) || r >= float64(ny) {
		return nan
	}
	// Pixel centers are at integer + 0.5.
	cc, rc := c-0.5, r-0.5
	k0, l0 := int(math.Floor(cc)), int(math.Floor(rc))
	s.reset()
	for l := l0 - radius + 1; l <= l0+radius; l++ {
		if l < 0 || l >= ny {
			continue
		}
		wy := weight(rc - float64(l))
		for k := k0 - radius + 1; k <= k0+radius; k++ {
			if k < 0 || k >= nx {
				continue
			}
			v := src.Elements[l*nx+k]
			if math.IsNaN(v) {
				continue
			}
			s.add(v, wy*weight(cc-float64(k)))
		}
	}
	if len(s.v) == 0 {
		return nan
	}
	sw := floats.Sum(s.w)
	if math.Abs(sw) < 1e-12 {
		return nan
	}
	return floats.Dot(s.v, s.w) / sw
}

// overlapEps is the smallest fraction of a source pixel that counts as
// covered, so floating point noise at shared edges is ignored.
const overlapEps = 1e-6

// areaKernel collects the valid source pixels overlapped by the destination
// pixel footprint, with their overlap areas as weights, and reduces them.
func areaKernel(reduce func(s *scratch) float64) kernel {
	return func(src *sparse.DenseArray, m *sourceMap, i, j int, s *scratch) float64 {
		ny, nx := src.Shape[0], src.Shape[1]
		c0, c1 := ordered(m.colEdge[j], m.colEdge[j+1])
		r0, r1 := ordered(m.rowEdge[i], m.rowEdge[i+1])
		c0, c1 = math.Max(c0, 0), math.Min(c1, float64(nx))
		r0, r1 = math.Max(r0, 0), math.Min(r1, float64(ny))
		if c1-c0 < overlapEps || r1-r0 < overlapEps {
			return nan
		}
		s.reset()
		for l := int(math.Floor(r0)); l < int(math.Ceil(r1)) && l < ny; l++ {
			oy := math.Min(r1, float64(l+1)) - math.Max(r0, float64(l))
			if oy < overlapEps {
				continue
			}
			for k := int(math.Floor(c0)); k < int(math.Ceil(c1)) && k < nx; k++ {
				ox := math.Min(c1, float64(k+1)) - math.Max(c0, float64(k))
				if ox < overlapEps {
					continue
				}
				v := src.Elements[l*nx+k]
				if math.IsNaN(v) {
					continue
				}
				s.add(v, ox*oy)
			}
		}
		if len(s.v) == 0 {
			return nan
		}
		return reduce(s)
	}
}

func ordered(a, b float64) (float64, float64) {
	if a > b {
		return b, a
	}
	return a, b
}

func weightedMean(s *scratch) float64 { return floats.Dot(s.v, s.w) / floats.Sum(s.w) }

func weightedSum(s *scratch) float64 { return floats.Dot(s.v, s.w) }

func median(s *scratch) float64 {
	sort.Float64s(s.v)
	return stat.Quantile(0.5, stat.Empirical, s.v, nil)
}
