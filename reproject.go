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
	"runtime"
	"strings"
	"sync"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/proj"
	"github.com/ctessum/sparse"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Projection is a target map projection. Both projections are cylindrical,
// so destination columns map to a single longitude and destination rows to
// a single latitude.
type Projection int

// The supported target projections.
const (
	// Geographic is an equirectangular latitude/longitude grid (EPSG:4326).
	Geographic Projection = iota

	// WebMercator is the spherical Mercator projection used by web maps
	// (EPSG:3857).
	WebMercator
)

// Source grids are treated as latitude/longitude on the Web Mercator sphere
// so that no datum shift is applied, matching EPSG:3857.
const (
	geographicProj4  = "+proj=longlat +a=6378137 +b=6378137 +no_defs"
	webMercatorProj4 = "+proj=merc +a=6378137 +b=6378137 +lat_ts=0.0 +lon_0=0.0 +x_0=0.0 +y_0=0 +k=1.0 +units=m +nadgrids=@null +no_defs"
)

func (p Projection) String() string {
	switch p {
	case Geographic:
		return "EPSG:4326"
	case WebMercator:
		return "EPSG:3857"
	default:
		return fmt.Sprintf("Projection(%d)", int(p))
	}
}

func (p Projection) sr() (*proj.SR, error) {
	switch p {
	case Geographic:
		return proj.Parse(geographicProj4)
	case WebMercator:
		return proj.Parse(webMercatorProj4)
	default:
		return nil, fmt.Errorf("tempo: unsupported projection %v", p)
	}
}

// Refinement factors of the two reprojected outputs.
const (
	FullRefinement = 1.0
	HalfRefinement = 0.5
)

// RasterPair holds the full- and half-resolution reprojections of a raster.
type RasterPair struct {
	Full, Half                   *sparse.DenseArray
	FullTransform, HalfTransform GeoTransform
}

// Reproject resamples raster, which lies on grid within bounds, to Web
// Mercator if projectionEnabled is true and to a geographic grid otherwise.
// The full and half resolution outputs are each resampled directly from
// raster.
func Reproject(raster *sparse.DenseArray, grid Grid, bounds *geom.Bounds, projectionEnabled bool, method Resampling) (*RasterPair, error) {
	dst := Geographic
	if projectionEnabled {
		dst = WebMercator
	}
	w := &Warper{Projection: dst, Method: method}
	return w.Pair(raster, grid, bounds)
}

// Warper resamples geographic rasters into a target projection. The
// destination grid and its mapping back to the source grid are cached, so
// one Warper should be reused for rasters that share a grid. A Warper is
// safe for concurrent use.
type Warper struct {
	Projection Projection
	Method     Resampling

	// Workers is the number of goroutines used per raster.
	// Zero means GOMAXPROCS.
	Workers int

	// CacheSize is the number of destination geometries kept in memory.
	// Zero means DefaultGeometryCacheSize.
	CacheSize int

	// flight merges concurrent computations of the same geometry.
	flight singleflight.Group

	mu                  sync.Mutex
	cache               map[string]*warpGeometry
	order               []string // cache keys, oldest first
	requested, computed int
}

// DefaultGeometryCacheSize holds the full and half resolution geometry of
// one grid.
const DefaultGeometryCacheSize = 2

// Pair resamples raster at full and half resolution. Each output is
// resampled directly from raster.
func (w *Warper) Pair(raster *sparse.DenseArray, grid Grid, bounds *geom.Bounds) (*RasterPair, error) {
	full, fullT, err := w.Warp(raster, grid, bounds, FullRefinement)
	if err != nil {
		return nil, err
	}
	half, halfT, err := w.Warp(raster, grid, bounds, HalfRefinement)
	if err != nil {
		return nil, err
	}
	return &RasterPair{Full: full, Half: half, FullTransform: fullT, HalfTransform: halfT}, nil
}

// geometryRequest describes a destination grid.
type geometryRequest struct {
	src        GeoTransform
	bounds     geom.Bounds
	ny, nx     int
	refinement float64
}

func (r geometryRequest) key(p Projection) string {
	return fmt.Sprintf("%s_%v_%v_%v_%v_%v_%v_%d_%d_%v", p, r.src.X0, r.src.DX, r.src.Y0, r.src.DY,
		r.bounds.Min, r.bounds.Max, r.ny, r.nx, r.refinement)
}

// warpGeometry is a destination grid and its source pixel mapping.
type warpGeometry struct {
	t             GeoTransform
	width, height int
	m             *sourceMap

	// err is the error from computing the geometry. Failures are cached
	// like successes.
	err error
}

// geometry returns the destination grid for r, computing it only if it is
// not already cached.
func (w *Warper) geometry(r geometryRequest) (*warpGeometry, error) {
	key := r.key(w.Projection)
	w.mu.Lock()
	w.requested++
	g, ok := w.cache[key]
	w.mu.Unlock()
	if !ok {
		v, _, _ := w.flight.Do(key, func() (interface{}, error) {
			w.mu.Lock()
			g, ok := w.cache[key]
			w.mu.Unlock()
			if ok {
				return g, nil
			}
			g, err := w.newGeometry(r)
			if err != nil {
				g = &warpGeometry{err: err}
			}
			w.mu.Lock()
			w.computed++
			w.store(key, g)
			w.mu.Unlock()
			return g, nil
		})
		g = v.(*warpGeometry)
	}
	if g.err != nil {
		return nil, g.err
	}
	return g, nil
}

// store adds g to the cache, evicting the oldest entries beyond CacheSize.
// w.mu must be held.
func (w *Warper) store(key string, g *warpGeometry) {
	size := w.CacheSize
	if size <= 0 {
		size = DefaultGeometryCacheSize
	}
	if w.cache == nil {
		w.cache = make(map[string]*warpGeometry)
	}
	if _, ok := w.cache[key]; !ok {
		w.order = append(w.order, key)
	}
	w.cache[key] = g
	for len(w.order) > size {
		delete(w.cache, w.order[0])
		w.order = w.order[1:]
	}
}

// GeometryRequests returns the number of destination geometry requests the
// Warper has received and the number it has computed.
func (w *Warper) GeometryRequests() (requested, computed int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.requested, w.computed
}

func (w *Warper) newGeometry(r geometryRequest) (*warpGeometry, error) {
	srcSR, err := Geographic.sr()
	if err != nil {
		return nil, err
	}
	dstSR, err := w.Projection.sr()
	if err != nil {
		return nil, err
	}
	forward, err := srcSR.NewTransform(dstSR)
	if err != nil {
		return nil, err
	}
	inverse, err := dstSR.NewTransform(srcSR)
	if err != nil {
		return nil, err
	}
	g := new(warpGeometry)
	g.t, g.width, g.height, err = DefaultTransform(forward, &r.bounds, r.nx, r.ny,
		int(float64(r.nx)*r.refinement), int(float64(r.ny)*r.refinement))
	if err != nil {
		return nil, err
	}
	if g.m, err = newSourceMap(inverse, r.src, g.t, g.width, g.height); err != nil {
		return nil, err
	}
	return g, nil
}

// Warp resamples raster onto a destination grid with int(ny*refinement)
// rows and int(nx*refinement) columns covering bounds in the target
// projection. The destination is north-up.
func (w *Warper) Warp(raster *sparse.DenseArray, grid Grid, bounds *geom.Bounds, refinement float64) (*sparse.DenseArray, GeoTransform, error) {
	if len(raster.Shape) != 2 {
		return nil, GeoTransform{}, fmt.Errorf("tempo: cannot reproject array with shape %v", raster.Shape)
	}
	ny, nx := raster.Shape[0], raster.Shape[1]
	src, err := sourceTransform(grid, bounds, ny, nx)
	if err != nil {
		return nil, GeoTransform{}, err
	}
	g, err := w.geometry(geometryRequest{src: src, bounds: *bounds, ny: ny, nx: nx, refinement: refinement})
	if err != nil {
		return nil, GeoTransform{}, err
	}
	width, height, m := g.width, g.height, g.m
	out := sparse.ZerosDense(height, width)
	kernel := w.Method.kernel()

	workers := w.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	var eg errgroup.Group
	eg.SetLimit(workers)
	band := int(math.Max(1, math.Round(TileLat*refinement)))
	for r0 := 0; r0 < height; r0 += band {
		r0 := r0
		r1 := r0 + band
		if r1 > height {
			r1 = height
		}
		eg.Go(func() error {
			s := new(scratch)
			for i := r0; i < r1; i++ {
				for j := 0; j < width; j++ {
					out.Elements[i*width+j] = kernel(raster, m, i, j, s)
				}
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, GeoTransform{}, err
	}
	return out, g.t, nil
}

// sourceTransform builds the geotransform of a raster with ny rows and
// nx columns spanning bounds, oriented the same way as grid.
func sourceTransform(grid Grid, b *geom.Bounds, ny, nx int) (GeoTransform, error) {
	if b == nil {
		return GeoTransform{}, fmt.Errorf("tempo: nil bounds")
	}
	if !(b.Max.X > b.Min.X) || !(b.Max.Y > b.Min.Y) || ny == 0 || nx == 0 {
		return GeoTransform{}, fmt.Errorf("tempo: degenerate source bounds %v for shape [%d %d]", *b, ny, nx)
	}
	t := GeoTransform{
		X0: b.Min.X, DX: (b.Max.X - b.Min.X) / float64(nx),
		Y0: b.Min.Y, DY: (b.Max.Y - b.Min.Y) / float64(ny),
	}
	gt := grid.Transform()
	if gt.DX < 0 {
		t.X0, t.DX = b.Max.X, -t.DX
	}
	if gt.DY < 0 {
		t.Y0, t.DY = b.Max.Y, -t.DY
	}
	return t, nil
}

// edgeSamples is the number of points sampled along each edge of the
// bounding box when computing the destination extent.
const edgeSamples = 21

// DefaultTransform computes the north-up destination geotransform covering
// bounds after transformation with forward. If dstWidth and dstHeight are
// positive they set the output size; otherwise the size is chosen so that the
// diagonal of the raster keeps the same number of pixels as the
// srcWidth x srcHeight source.
func DefaultTransform(forward proj.Transformer, bounds *geom.Bounds, srcWidth, srcHeight, dstWidth, dstHeight int) (t GeoTransform, width, height int, err error) {
	if bounds == nil || !(bounds.Max.X > bounds.Min.X) || !(bounds.Max.Y > bounds.Min.Y) {
		return t, 0, 0, fmt.Errorf("tempo: default transform: degenerate bounds %v", bounds)
	}
	ext := geom.NewBounds()
	for i := 0; i < edgeSamples; i++ {
		f := float64(i) / float64(edgeSamples-1)
		x := bounds.Min.X + f*(bounds.Max.X-bounds.Min.X)
		y := bounds.Min.Y + f*(bounds.Max.Y-bounds.Min.Y)
		for _, p := range [][2]float64{
			{x, bounds.Min.Y}, {x, bounds.Max.Y},
			{bounds.Min.X, y}, {bounds.Max.X, y},
		} {
			px, py, err := forward(p[0], p[1])
			if err != nil {
				return t, 0, 0, fmt.Errorf("tempo: default transform: %v", err)
			}
			if math.IsNaN(px) || math.IsNaN(py) || math.IsInf(px, 0) || math.IsInf(py, 0) {
				return t, 0, 0, fmt.Errorf("tempo: default transform: point (%g, %g) does not project", p[0], p[1])
			}
			ext.Extend(geom.NewBoundsPoint(geom.Point{X: px, Y: py}))
		}
	}
	dx := ext.Max.X - ext.Min.X
	dy := ext.Max.Y - ext.Min.Y
	if !(dx > 0) || !(dy > 0) {
		return t, 0, 0, fmt.Errorf("tempo: default transform: singular destination extent %v", *ext)
	}
	if dstWidth > 0 && dstHeight > 0 {
		width, height = dstWidth, dstHeight
	} else {
		res := math.Hypot(dx, dy) / math.Hypot(float64(srcWidth), float64(srcHeight))
		width = int(dx/res + 0.5)
		height = int(dy/res + 0.5)
		if width < 1 || height < 1 {
			return t, 0, 0, fmt.Errorf("tempo: default transform: empty destination %dx%d", width, height)
		}
	}
	t = GeoTransform{
		X0: ext.Min.X, DX: dx / float64(width),
		Y0: ext.Max.Y, DY: -dy / float64(height),
	}
	return t, width, height, nil
}

// sourceMap holds, for each destination row and column, the fractional source
// pixel coordinates of the destination pixel edges and center.
type sourceMap struct {
	// colEdge has width+1 entries and rowEdge height+1 entries.
	colEdge, rowEdge     []float64
	colCenter, rowCenter []float64
}

func newSourceMap(inverse proj.Transformer, src, dst GeoTransform, width, height int) (*sourceMap, error) {
	m := &sourceMap{
		colEdge:   make([]float64, width+1),
		rowEdge:   make([]float64, height+1),
		colCenter: make([]float64, width),
		rowCenter: make([]float64, height),
	}
	xMid := dst.X0 + float64(width)*dst.DX/2
	yMid := dst.Y0 + float64(height)*dst.DY/2
	toCol := func(x float64) (float64, error) {
		lon, _, err := inverse(x, yMid)
		if err != nil {
			return 0, err
		}
		c, _ := src.Pixel(lon, 0)
		return c, nil
	}
	toRow := func(y float64) (float64, error) {
		_, lat, err := inverse(xMid, y)
		if err != nil {
			return 0, err
		}
		_, r := src.Pixel(0, lat)
		return r, nil
	}
	var err error
	for j := 0; j <= width; j++ {
		if m.colEdge[j], err = toCol(dst.X0 + float64(j)*dst.DX); err != nil {
			return nil, err
		}
		if j < width {
			if m.colCenter[j], err = toCol(dst.X0 + (float64(j)+0.5)*dst.DX); err != nil {
				return nil, err
			}
		}
	}
	for i := 0; i <= height; i++ {
		if m.rowEdge[i], err = toRow(dst.Y0 + float64(i)*dst.DY); err != nil {
			return nil, err
		}
		if i < height {
			if m.rowCenter[i], err = toRow(dst.Y0 + (float64(i)+0.5)*dst.DY); err != nil {
				return nil, err
			}
		}
	}
	for _, v := range [][]float64{m.colEdge, m.rowEdge, m.colCenter, m.rowCenter} {
		for _, f := range v {
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return nil, fmt.Errorf("tempo: destination grid does not map back to the source grid")
			}
		}
	}
	return m, nil
}

// ParseResampling returns the resampling method with the given name.
// Unrecognized names, including the empty string, fall back to Average.
func ParseResampling(name string) Resampling {
	switch strings.ToLower(name) {
	case "nearest":
		return Nearest
	case "average":
		return Average
	case "bilinear":
		return Bilinear
	case "cubic":
		return Cubic
	case "med":
		return Median
	case "sum":
		return Sum
	default:
		// Unknown methods are accepted and resampled with Average.
		return Average
	}
}
