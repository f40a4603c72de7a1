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
	"reflect"
	"sync"
	"testing"

	"github.com/ctessum/geom"
)

// testField returns a 4x6 south-up raster covering 30-32°N and
// 100-97°W with value 10*row + column.
func testField() (*Grid, *geom.Bounds, []float64) {
	g := &Grid{
		Lat: []float64{30.25, 30.75, 31.25, 31.75},
		Lon: []float64{-99.75, -99.25, -98.75, -98.25, -97.75, -97.25},
	}
	v := make([]float64, 24)
	for i := 0; i < 4; i++ {
		for j := 0; j < 6; j++ {
			v[i*6+j] = float64(10*i + j)
		}
	}
	return g, g.Transform().Bounds(4, 6), v
}

func TestReproject_geographicNearest(t *testing.T) {
	g, b, v := testField()
	pair, err := Reproject(dense(4, 6, v...), *g, b, false, Nearest)
	if err != nil {
		t.Fatal(err)
	}
	if pair.Full.Shape[0] != 4 || pair.Full.Shape[1] != 6 {
		t.Fatalf("full shape: have %v", pair.Full.Shape)
	}
	if pair.Half.Shape[0] != 2 || pair.Half.Shape[1] != 3 {
		t.Fatalf("half shape: have %v", pair.Half.Shape)
	}
	// The output is north-up, so rows are reversed.
	for i := 0; i < 4; i++ {
		for j := 0; j < 6; j++ {
			want := float64(10*(3-i) + j)
			if have := pair.Full.Get(i, j); have != want {
				t.Errorf("(%d, %d): have %g, want %g", i, j, have, want)
			}
		}
	}
	ft := pair.FullTransform
	if ft.X0 != -100 || ft.DX != 0.5 || ft.Y0 != 32 || ft.DY != -0.5 {
		t.Errorf("full transform: have %+v", ft)
	}
	ht := pair.HalfTransform
	if ht.DX != 1 || ht.DY != -1 {
		t.Errorf("half transform: have %+v", ht)
	}
}

func TestReproject_webMercator(t *testing.T) {
	g, b, _ := testField()
	v := make([]float64, 24)
	for i := range v {
		v[i] = 2
	}
	pair, err := Reproject(dense(4, 6, v...), *g, b, true, Average)
	if err != nil {
		t.Fatal(err)
	}
	const r = 6378137.0
	x0 := r * -100 * math.Pi / 180
	if d := math.Abs(pair.FullTransform.X0 - x0); d > 1 {
		t.Errorf("x0: have %g, want %g", pair.FullTransform.X0, x0)
	}
	y1 := r * math.Log(math.Tan(math.Pi/4+32*math.Pi/360))
	if d := math.Abs(pair.FullTransform.Y0 - y1); d > 1 {
		t.Errorf("y0: have %g, want %g", pair.FullTransform.Y0, y1)
	}
	for _, a := range []*[]float64{&pair.Full.Elements, &pair.Half.Elements} {
		for i, have := range *a {
			if math.Abs(have-2) > 1e-9 {
				t.Errorf("pixel %d: have %g, want 2", i, have)
			}
		}
	}
}

func TestWarp_methods(t *testing.T) {
	g := Grid{Lat: []float64{30.25, 30.75}, Lon: []float64{-99.75, -99.25}}
	b := g.Transform().Bounds(2, 2)
	full := dense(2, 2, 1, 2, 3, 4)
	gappy := dense(2, 2, 1, 2, nan, 4)

	tests := []struct {
		method Resampling
		src    []float64
		want   float64
	}{
		{Average, full.Elements, 2.5},
		{Average, gappy.Elements, 7.0 / 3},
		{Sum, full.Elements, 10},
		{Median, gappy.Elements, 2},
		{Bilinear, full.Elements, 2.5},
		{Cubic, full.Elements, 2.5},
	}
	for _, test := range tests {
		t.Run(test.method.String(), func(t *testing.T) {
			w := &Warper{Projection: Geographic, Method: test.method}
			out, _, err := w.Warp(dense(2, 2, test.src...), g, b, HalfRefinement)
			if err != nil {
				t.Fatal(err)
			}
			if len(out.Elements) != 1 {
				t.Fatalf("shape: have %v", out.Shape)
			}
			if have := out.Elements[0]; math.Abs(have-test.want) > 1e-9 {
				t.Errorf("have %g, want %g", have, test.want)
			}
		})
	}
}

func TestWarp_allMissing(t *testing.T) {
	g := Grid{Lat: []float64{30.25, 30.75}, Lon: []float64{-99.75, -99.25}}
	w := &Warper{Projection: Geographic, Method: Average}
	out, _, err := w.Warp(dense(2, 2, nan, nan, nan, nan), g, g.Transform().Bounds(2, 2), FullRefinement)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range out.Elements {
		if !math.IsNaN(v) {
			t.Errorf("pixel %d: have %g, want NaN", i, v)
		}
	}
}

func TestParseResampling(t *testing.T) {
	for _, m := range []Resampling{Average, Nearest, Bilinear, Cubic, Median, Sum} {
		if have := ParseResampling(m.String()); have != m {
			t.Errorf("%s: have %v", m, have)
		}
	}
	if have := ParseResampling("lanczos"); have != Average {
		t.Errorf("unknown method: have %v, want average", have)
	}
}

func TestDefaultTransform_size(t *testing.T) {
	src, _ := Geographic.sr()
	forward, err := src.NewTransform(src)
	if err != nil {
		t.Fatal(err)
	}
	b := &geom.Bounds{Min: geom.Point{X: -100, Y: 30}, Max: geom.Point{X: -97, Y: 32}}
	gt, w, h, err := DefaultTransform(forward, b, 6, 4, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if w != 6 || h != 4 {
		t.Errorf("size: have %dx%d, want 6x4", w, h)
	}
	if gt.Y0 != 32 || gt.DY >= 0 {
		t.Errorf("transform should be north-up: %+v", gt)
	}
	if _, _, _, err := DefaultTransform(forward, &geom.Bounds{Min: b.Min, Max: b.Min}, 6, 4, 0, 0); err == nil {
		t.Error("expected an error for degenerate bounds")
	}
}

func TestWarper_geometryCache(t *testing.T) {
	g, b, v := testField()
	w := &Warper{Projection: WebMercator, Method: Average}
	for i := 0; i < 3; i++ {
		if _, _, err := w.Warp(dense(4, 6, v...), *g, b, FullRefinement); err != nil {
			t.Fatal(err)
		}
	}
	pair, err := w.Pair(dense(4, 6, v...), *g, b)
	if err != nil {
		t.Fatal(err)
	}
	requested, computed := w.GeometryRequests()
	if requested != 5 || computed != 2 {
		t.Errorf("have %d requests and %d computations, want 5 and 2", requested, computed)
	}

	fresh, err := Reproject(dense(4, 6, v...), *g, b, true, Average)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(pair, fresh) {
		t.Errorf("cached result differs from uncached result")
	}
}

func TestWarper_concurrent(t *testing.T) {
	g, b, v := testField()
	want, err := Reproject(dense(4, 6, v...), *g, b, true, Average)
	if err != nil {
		t.Fatal(err)
	}
	w := &Warper{Projection: WebMercator, Method: Average, Workers: 2}
	const n = 16
	pairs := make([]*RasterPair, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pairs[i], errs[i] = w.Pair(dense(4, 6, v...), *g, b)
		}(i)
	}
	wg.Wait()
	for i := range pairs {
		if errs[i] != nil {
			t.Fatal(errs[i])
		}
		if !reflect.DeepEqual(pairs[i], want) {
			t.Errorf("pair %d differs from the sequential result", i)
		}
	}
	requested, computed := w.GeometryRequests()
	if requested != 2*n || computed != 2 {
		t.Errorf("have %d requests and %d computations, want %d and 2", requested, computed, 2*n)
	}
}

func TestWarper_cacheEviction(t *testing.T) {
	g, b, v := testField()
	w := &Warper{Projection: Geographic, Method: Nearest, CacheSize: 1}
	for _, r := range []float64{FullRefinement, HalfRefinement, FullRefinement} {
		if _, _, err := w.Warp(dense(4, 6, v...), *g, b, r); err != nil {
			t.Fatal(err)
		}
	}
	if requested, computed := w.GeometryRequests(); requested != 3 || computed != 3 {
		t.Errorf("have %d requests and %d computations, want 3 and 3", requested, computed)
	}
}

func TestWarper_geometryError(t *testing.T) {
	g, b, v := testField()
	w := &Warper{Projection: Projection(9)}
	for i := 0; i < 2; i++ {
		if _, _, err := w.Warp(dense(4, 6, v...), *g, b, FullRefinement); err == nil {
			t.Fatal("expected an error for an unsupported projection")
		}
	}
}
