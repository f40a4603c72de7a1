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
	"errors"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestImageName(t *testing.T) {
	tt := time.Date(2024, 3, 28, 12, 5, 59, 0, time.UTC)
	if have, want := ImageName(tt, "_v2"), "tempo_2024-03-28T12h05m_v2.png"; have != want {
		t.Errorf("have %q, want %q", have, want)
	}
	if have, want := HalfResPath(filepath.Join("images", "a.png")), filepath.Join("images", ResizedDir, "a.png"); have != want {
		t.Errorf("have %q, want %q", have, want)
	}
}

func TestIndex(t *testing.T) {
	tests := []struct {
		v    float64
		want uint8
		ok   bool
	}{
		{-1, 0, true},
		{0, 0, true},
		{0.5, 127, true},
		{1, RampSize - 1, true},
		{7, RampSize - 1, true},
		{nan, 0, false},
	}
	for _, test := range tests {
		idx, ok := Index(test.v, 0, 1)
		if idx != test.want || ok != test.ok {
			t.Errorf("%g: have (%d, %v), want (%d, %v)", test.v, idx, ok, test.want, test.ok)
		}
	}
}

func TestColormap(t *testing.T) {
	for _, name := range ColormapNames() {
		c, err := LookupColormap(name)
		if err != nil {
			t.Fatal(err)
		}
		if r := c.Ramp(); len(r) != RampSize {
			t.Errorf("%s: ramp has %d colors", name, len(r))
		}
	}
	gray, _ := LookupColormap("gray")
	r := gray.Ramp()
	if r[0] != (color.RGBA{0, 0, 0, 255}) || r[RampSize-1] != (color.RGBA{255, 255, 255, 255}) {
		t.Errorf("gray ramp ends: %v, %v", r[0], r[RampSize-1])
	}
	var cfgErr *ConfigurationError
	if _, err := LookupColormap("rainbow"); !errors.As(err, &cfgErr) {
		t.Errorf("have %v, want *ConfigurationError", err)
	}
}

func TestRender(t *testing.T) {
	gray, _ := LookupColormap("gray")
	img, err := Render(dense(2, 2, 0, 1, nan, 1), gray, 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 2 || b.Dy() != 2 {
		t.Fatalf("size: have %v", b)
	}
	// Black, white and transparent.
	if len(img.Palette) != 3 {
		t.Errorf("palette has %d entries, want 3", len(img.Palette))
	}
	if img.At(0, 0) != (color.RGBA{0, 0, 0, 255}) {
		t.Errorf("(0, 0): have %v", img.At(0, 0))
	}
	if img.At(1, 0) != img.At(1, 1) {
		t.Error("equal values should share a color")
	}
	if _, _, _, a := img.At(0, 1).RGBA(); a != 0 {
		t.Errorf("NaN pixel alpha: have %d, want 0", a)
	}
}

func TestSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "a.png")
	gray, _ := LookupColormap("gray")
	s := &Saver{}

	if err := s.Save(dense(1, 2, 0, 1), gray, 0, 1, path); err != nil {
		t.Fatal(err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	img, err := png.Decode(f)
	f.Close()
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 2 || b.Dy() != 1 {
		t.Errorf("size: have %v", b)
	}
	first, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	// An existing image is kept unless Overwrite is set.
	if err := s.Save(dense(1, 2, 1, 1), gray, 0, 1, path); err != nil {
		t.Fatal(err)
	}
	second, _ := os.ReadFile(path)
	if !bytes.Equal(first, second) {
		t.Error("image was overwritten")
	}
	s.Overwrite = true
	if err := s.Save(dense(1, 2, 1, 1), gray, 0, 1, path); err != nil {
		t.Fatal(err)
	}
	third, _ := os.ReadFile(path)
	if bytes.Equal(first, third) {
		t.Error("image was not overwritten")
	}

	matches, _ := filepath.Glob(filepath.Join(dir, "sub", ".tempo-*"))
	if len(matches) != 0 {
		t.Errorf("temporary files left behind: %v", matches)
	}
}

func TestSave_missingCompressor(t *testing.T) {
	gray, _ := LookupColormap("gray")
	s := &Saver{Compress: []string{"tempo-no-such-compressor", PathPlaceholder}}
	path := filepath.Join(t.TempDir(), "a.png")
	if err := s.Save(dense(1, 1, 0.5), gray, 0, 1, path); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Error(err)
	}
}
