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
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/tempo/internal/granuletest"
)

// writeTestGranules writes three 10x10 granules five minutes apart,
// out of time order.
func writeTestGranules(t *testing.T) []string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "granules")
	var g []*granuletest.Granule
	for _, m := range []int{10, 0, 5} {
		g = append(g, granuletest.Checkerboard(testStart.Add(time.Duration(m)*time.Minute), 10, 10))
	}
	paths, err := granuletest.WriteAll(dir, g...)
	if err != nil {
		t.Fatal(err)
	}
	return paths
}

func testPipeline(t *testing.T) *Pipeline {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.OutputDir = filepath.Join(dir, "images")
	cfg.CloudOutputDir = filepath.Join(dir, "cloud_images")
	cfg.Reproject = false
	cfg.Method = Nearest
	cfg.Compress = nil
	cfg.DoClouds = true
	cfg.RunID = "test"
	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)
	return &Pipeline{Config: cfg, Log: log}
}

func pngs(t *testing.T, dir string) []string {
	t.Helper()
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if strings.HasSuffix(path, ".png") {
			rel, _ := filepath.Rel(dir, path)
			files = append(files, rel)
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		t.Fatal(err)
	}
	return files
}

func TestPipeline(t *testing.T) {
	files := writeTestGranules(t)
	p := testPipeline(t)
	if err := p.Run(context.Background(), files); err != nil {
		t.Fatal(err)
	}
	wantStates := []State{Loading, Combining, Chunking, MetadataWritten, Rendering, Done}
	if have := p.History(); !reflect.DeepEqual(have, wantStates) {
		t.Errorf("states: have %v, want %v", have, wantStates)
	}
	if p.State() != Done {
		t.Errorf("state: have %v", p.State())
	}
	if requested, computed := p.warper.GeometryRequests(); requested != 18 || computed >= requested {
		t.Errorf("geometry cache: %d requests, %d computed", requested, computed)
	}

	wantImages := []string{
		"resized_images/tempo_2024-03-28T12h00m.png",
		"resized_images/tempo_2024-03-28T12h05m.png",
		"resized_images/tempo_2024-03-28T12h10m.png",
		"tempo_2024-03-28T12h00m.png",
		"tempo_2024-03-28T12h05m.png",
		"tempo_2024-03-28T12h10m.png",
	}
	for i := range wantImages {
		wantImages[i] = filepath.FromSlash(wantImages[i])
	}
	for _, dir := range []string{p.Config.OutputDir, p.Config.CloudOutputDir} {
		if have := pngs(t, dir); !reflect.DeepEqual(have, wantImages) {
			t.Errorf("%s: have %v, want %v", dir, have, wantImages)
		}
		times, err := os.ReadFile(filepath.Join(dir, TimesFileName("tempo", "", "test")))
		if err != nil {
			t.Fatal(err)
		}
		if want := "[1711627200000, 1711627500000, 1711627800000]"; string(times) != want {
			t.Errorf("times: have %s, want %s", times, want)
		}
		bounds, err := os.ReadFile(filepath.Join(dir, BoundsFileName("tempo", "test")))
		if err != nil {
			t.Fatal(err)
		}
		if want := "lon_min: -100.0\nlon_max: -95.0\nlat_min: 30.0\nlat_max: 35.0\n"; !strings.HasPrefix(string(bounds), want) {
			t.Errorf("bounds: have %s", bounds)
		}
		if _, err := os.Stat(filepath.Join(dir, FieldOfRegardFileName("tempo", "test"))); err != nil {
			t.Error(err)
		}
	}

	// Rendering again gives identical images.
	first, err := os.ReadFile(filepath.Join(p.Config.OutputDir, wantImages[3]))
	if err != nil {
		t.Fatal(err)
	}
	p.Config.Overwrite = true
	p.Config.SingleThreaded = true
	if err := p.Run(context.Background(), files); err != nil {
		t.Fatal(err)
	}
	second, err := os.ReadFile(filepath.Join(p.Config.OutputDir, wantImages[3]))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first, second) {
		t.Error("images differ between runs")
	}
}

func TestPipeline_rerunKeepsImages(t *testing.T) {
	files := writeTestGranules(t)
	p := testPipeline(t)
	if err := p.Run(context.Background(), files); err != nil {
		t.Fatal(err)
	}
	old := time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)
	first := make(map[string][]byte)
	for _, dir := range []string{p.Config.OutputDir, p.Config.CloudOutputDir} {
		for _, f := range pngs(t, dir) {
			path := filepath.Join(dir, f)
			b, err := os.ReadFile(path)
			if err != nil {
				t.Fatal(err)
			}
			first[path] = b
			if err := os.Chtimes(path, old, old); err != nil {
				t.Fatal(err)
			}
		}
	}
	if len(first) != 12 {
		t.Fatalf("first run wrote %d images, want 12", len(first))
	}

	p.Config.Overwrite = false
	if err := p.Run(context.Background(), files); err != nil {
		t.Fatal(err)
	}
	if p.State() != Done {
		t.Errorf("state: have %v", p.State())
	}
	for path, want := range first {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatal(err)
		}
		if !info.ModTime().Equal(old) {
			t.Errorf("%s was rewritten", path)
		}
		have, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(have, want) {
			t.Errorf("%s changed between runs", path)
		}
	}
}

func TestPipeline_sharedOutputDir(t *testing.T) {
	files := writeTestGranules(t)
	p := testPipeline(t)
	p.Config.CloudOutputDir = p.Config.OutputDir + string(filepath.Separator)
	if err := p.Run(context.Background(), files); err != nil {
		t.Fatal(err)
	}
	if have := pngs(t, p.Config.OutputDir); len(have) != 6 {
		t.Errorf("have images %v, want 6", have)
	}

	// The lock is released once the run ends.
	fl := flock.New(filepath.Join(p.Config.OutputDir, LockFile))
	if ok, err := fl.TryLock(); err != nil || !ok {
		t.Errorf("locking after run: %v %v", ok, err)
	}
	fl.Unlock()
}

func TestPipeline_canceled(t *testing.T) {
	for _, single := range []bool{true, false} {
		files := writeTestGranules(t)
		p := testPipeline(t)
		p.Config.SingleThreaded = single
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := p.Run(ctx, files); !errors.Is(err, context.Canceled) {
			t.Errorf("single threaded %v: have %v, want context.Canceled", single, err)
		}
		if p.State() != Failed {
			t.Errorf("single threaded %v: state %v, want Failed", single, p.State())
		}
		if have := pngs(t, p.Config.OutputDir); len(have) != 0 {
			t.Errorf("single threaded %v: canceled run wrote %v", single, have)
		}
	}
}

func TestPipeline_textOnly(t *testing.T) {
	files := writeTestGranules(t)
	p := testPipeline(t)
	p.Config.TextOnly = true
	if err := p.Run(context.Background(), files); err != nil {
		t.Fatal(err)
	}
	if have := pngs(t, p.Config.OutputDir); len(have) != 0 {
		t.Errorf("text-only run wrote images: %v", have)
	}
	if _, err := os.Stat(filepath.Join(p.Config.OutputDir, TimesFileName("tempo", "", "test"))); err != nil {
		t.Error(err)
	}
	wantStates := []State{Loading, Combining, Chunking, MetadataWritten, Done}
	if have := p.History(); !reflect.DeepEqual(have, wantStates) {
		t.Errorf("states: have %v, want %v", have, wantStates)
	}
}

func TestPipeline_noOutput(t *testing.T) {
	files := writeTestGranules(t)
	p := testPipeline(t)
	p.Config.NoOutput = true
	if err := p.Run(context.Background(), files); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(p.Config.OutputDir); !os.IsNotExist(err) {
		t.Errorf("output directory should not exist: %v", err)
	}
	wantStates := []State{Loading, Combining, Chunking, Rendering, Done}
	if have := p.History(); !reflect.DeepEqual(have, wantStates) {
		t.Errorf("states: have %v, want %v", have, wantStates)
	}
}

func TestPipeline_missingFile(t *testing.T) {
	files := writeTestGranules(t)
	p := testPipeline(t)
	err := p.Run(context.Background(), append(files, filepath.Join(t.TempDir(), "missing.nc")))
	var mfe *MissingFileError
	if !errors.As(err, &mfe) {
		t.Fatalf("have %v, want *MissingFileError", err)
	}
	if p.State() != Failed {
		t.Errorf("state: have %v, want Failed", p.State())
	}
}

func TestPipeline_locked(t *testing.T) {
	files := writeTestGranules(t)
	p := testPipeline(t)
	if err := os.MkdirAll(p.Config.OutputDir, 0o755); err != nil {
		t.Fatal(err)
	}
	fl := flock.New(filepath.Join(p.Config.OutputDir, LockFile))
	if ok, err := fl.TryLock(); err != nil || !ok {
		t.Fatalf("locking: %v %v", ok, err)
	}
	defer fl.Unlock()
	if err := p.Run(context.Background(), files); err == nil {
		t.Error("expected an error while the output directory is locked")
	}
}

func TestPipelineRunID(t *testing.T) {
	p := &Pipeline{Config: DefaultConfig()}
	a := p.RunID([]string{"/x/a.nc", "/y/b.nc"})
	b := p.RunID([]string{"b.nc", "a.nc"})
	if a != b || len(a) != 12 {
		t.Errorf("run ids %q and %q should be equal and 12 characters long", a, b)
	}
	p.Config.Policy = QualityHigh
	if c := p.RunID([]string{"a.nc", "b.nc"}); c == a {
		t.Error("changing the quality policy should change the run id")
	}
	p.Config.RunID = "fixed"
	if have := p.RunID(nil); have != "fixed" {
		t.Errorf("have %q", have)
	}
}
