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
	"image"
	"image/color"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/ctessum/sparse"
	"github.com/sirupsen/logrus"
)

// ImageTimeFormat is the layout of the timestamp in image file names.
const ImageTimeFormat = "2006-01-02T15h04m"

// ResizedDir is the subdirectory holding half-resolution images.
const ResizedDir = "resized_images"

// PathPlaceholder is replaced by the image path in recompression commands.
const PathPlaceholder = "{}"

// DefaultCompressCommand losslessly recompresses a PNG file in place
// using ImageMagick.
var DefaultCompressCommand = []string{"convert", PathPlaceholder,
	"-define", "png:compression-filter=4",
	"-define", "png:compression-level=9",
	"-define", "png:compression-strategy=1",
	PathPlaceholder}

// ImageName returns the file name of the image for time t.
func ImageName(t time.Time, suffix string) string {
	return "tempo_" + t.UTC().Format(ImageTimeFormat) + suffix + ".png"
}

// HalfResPath returns the path of the half-resolution variant of the
// full-resolution image at path.
func HalfResPath(path string) string {
	return filepath.Join(filepath.Dir(path), ResizedDir, filepath.Base(path))
}

// Saver writes rasters as palette PNG images.
type Saver struct {
	// Overwrite causes existing images to be regenerated.
	Overwrite bool

	// Compress is an external command run in the background after each
	// image is saved or found to exist. PathPlaceholder arguments are
	// replaced by the image path. Empty disables recompression.
	Compress []string

	Log logrus.FieldLogger
}

func (s *Saver) log() logrus.FieldLogger {
	if s.Log == nil {
		return logrus.StandardLogger()
	}
	return s.Log
}

// Save renders array with cmap over [vmin, vmax] and writes it to path,
// creating the parent directory if needed. If path already exists and
// Overwrite is false the image is not regenerated.
func (s *Saver) Save(array *sparse.DenseArray, cmap *Colormap, vmin, vmax float64, path string) error {
	_, err := os.Stat(path)
	switch {
	case err == nil && !s.Overwrite:
		s.log().WithField("file", path).Debug("image exists; skipping")
	case err == nil || os.IsNotExist(err):
		img, err := Render(array, cmap, vmin, vmax)
		if err != nil {
			return fmt.Errorf("tempo: rendering %s: %w", path, err)
		}
		if err := writePNG(img, path); err != nil {
			return err
		}
		s.log().WithField("file", path).Debug("saved image")
	default:
		return fmt.Errorf("tempo: checking %s: %w", path, err)
	}
	s.recompress(path)
	return nil
}

// writePNG writes img to a temporary file next to path and renames it into
// place, so readers never observe a partial image.
func writePNG(img image.Image, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("tempo: creating directory %s: %w", dir, err)
	}
	f, err := os.CreateTemp(dir, ".tempo-*.png")
	if err != nil {
		return fmt.Errorf("tempo: creating %s: %w", path, err)
	}
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	if err := enc.Encode(f, img); err != nil {
		f.Close()
		os.Remove(f.Name())
		return fmt.Errorf("tempo: encoding %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return fmt.Errorf("tempo: writing %s: %w", path, err)
	}
	if err := os.Chmod(f.Name(), 0o644); err != nil {
		os.Remove(f.Name())
		return fmt.Errorf("tempo: writing %s: %w", path, err)
	}
	if err := os.Rename(f.Name(), path); err != nil {
		os.Remove(f.Name())
		return fmt.Errorf("tempo: writing %s: %w", path, err)
	}
	return nil
}

// recompress starts the recompression command and does not wait for it.
func (s *Saver) recompress(path string) {
	if len(s.Compress) == 0 {
		return
	}
	log := s.log().WithField("file", path)
	bin, err := exec.LookPath(s.Compress[0])
	if err != nil {
		log.Debugf("recompression skipped: %v", err)
		return
	}
	args := make([]string, len(s.Compress)-1)
	for i, a := range s.Compress[1:] {
		args[i] = strings.ReplaceAll(a, PathPlaceholder, path)
	}
	cmd := exec.Command(bin, args...)
	if err := cmd.Start(); err != nil {
		log.Warnf("starting recompression: %v", err)
		return
	}
	go func() {
		if err := cmd.Wait(); err != nil {
			log.Warnf("recompression: %v", err)
		}
	}()
}

// Render converts a [row, column] array to a palette image. The palette
// holds only the colormap entries that occur in the image, plus a
// transparent entry if any pixel is NaN.
func Render(array *sparse.DenseArray, cmap *Colormap, vmin, vmax float64) (*image.Paletted, error) {
	if len(array.Shape) != 2 {
		return nil, fmt.Errorf("tempo: cannot render array with shape %v", array.Shape)
	}
	ny, nx := array.Shape[0], array.Shape[1]
	const transparent = RampSize
	idx := make([]uint8, len(array.Elements))
	var used [RampSize + 1]bool
	for i, v := range array.Elements {
		if k, ok := Index(v, vmin, vmax); ok {
			idx[i] = k
		} else {
			idx[i] = transparent
		}
		used[idx[i]] = true
	}

	ramp := cmap.Ramp()
	var pal color.Palette
	var remap [RampSize + 1]uint8
	for k, u := range used {
		if !u {
			continue
		}
		remap[k] = uint8(len(pal))
		if k == transparent {
			pal = append(pal, color.RGBA{})
		} else {
			pal = append(pal, ramp[k])
		}
	}
	if len(pal) == 0 {
		pal = color.Palette{color.RGBA{}}
	}

	img := image.NewPaletted(image.Rect(0, 0, nx, ny), pal)
	for i, k := range idx {
		img.Pix[i] = remap[k]
	}
	return img, nil
}
