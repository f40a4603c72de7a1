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
	"image/color"
	"sort"
	"strings"
)

// RampSize is the number of colors in a rendered colormap. The last palette
// index of a rendered image is reserved for transparent (masked) pixels.
const RampSize = 255

// Colormap is a list of colors that are spread evenly over the value range.
type Colormap struct {
	Name string

	// Interpolate selects a smooth gradient between Colours. Otherwise
	// the value range is split into len(Colours) flat bands.
	Interpolate bool
	Colours     []color.RGBA
}

// Ramp returns RampSize colors sampled from the colormap.
func (c *Colormap) Ramp() []color.RGBA {
	ramp := make([]color.RGBA, RampSize)
	n := len(c.Colours)
	if n == 0 {
		return ramp
	}
	for i := range ramp {
		f := float64(i) / float64(RampSize-1)
		if !c.Interpolate || n == 1 {
			band := int(f * float64(n))
			if band >= n {
				band = n - 1
			}
			ramp[i] = c.Colours[band]
			continue
		}
		pos := f * float64(n-1)
		lo := int(pos)
		if lo >= n-1 {
			ramp[i] = c.Colours[n-1]
			continue
		}
		ramp[i] = interpolateColor(c.Colours[lo], c.Colours[lo+1], pos-float64(lo))
	}
	return ramp
}

func interpolateColor(a, b color.RGBA, f float64) color.RGBA {
	lerp := func(x, y uint8) uint8 {
		return uint8(float64(x) + f*(float64(y)-float64(x)) + 0.5)
	}
	return color.RGBA{lerp(a.R, b.R), lerp(a.G, b.G), lerp(a.B, b.B), lerp(a.A, b.A)}
}

// Index returns the ramp index of value v for the range [vmin, vmax].
// Values outside the range are clamped. ok is false for NaN.
func Index(v, vmin, vmax float64) (idx uint8, ok bool) {
	if v != v {
		return 0, false
	}
	var f float64
	if vmax > vmin {
		f = (v - vmin) / (vmax - vmin)
	}
	switch {
	case f <= 0:
		return 0, true
	case f >= 1:
		return RampSize - 1, true
	}
	i := int(f * RampSize)
	if i > RampSize-1 {
		i = RampSize - 1
	}
	return uint8(i), true
}

func hex(s string) color.RGBA {
	c := color.RGBA{A: 255}
	if _, err := fmt.Sscanf(strings.TrimPrefix(s, "#"), "%2x%2x%2x", &c.R, &c.G, &c.B); err != nil {
		panic(fmt.Errorf("tempo: invalid color %q: %v", s, err))
	}
	return c
}

// Colormaps available by name.
var colormaps = map[string]*Colormap{
	"no2": {
		Name:        "no2",
		Interpolate: true,
		Colours: []color.RGBA{
			hex("#fdf9d9"), hex("#fee391"), hex("#fec44f"), hex("#fe9929"),
			hex("#ec7014"), hex("#cc4c02"), hex("#993404"), hex("#662506"),
			hex("#3d0a4a"),
		},
	},
	"cloud": {
		Name:        "cloud",
		Interpolate: true,
		Colours:     []color.RGBA{hex("#707070"), hex("#707070")},
	},
	"gray": {
		Name:        "gray",
		Interpolate: true,
		Colours:     []color.RGBA{hex("#000000"), hex("#ffffff")},
	},
	"greys": {
		Name:        "greys",
		Interpolate: true,
		Colours:     []color.RGBA{hex("#ffffff"), hex("#000000")},
	},
}

// LookupColormap returns the colormap with the given name, or a
// *ConfigurationError if there is none.
func LookupColormap(name string) (*Colormap, error) {
	c, ok := colormaps[strings.ToLower(name)]
	if !ok {
		return nil, &ConfigurationError{Option: "colormap", Value: name}
	}
	return c, nil
}

// ColormapNames returns the names of the available colormaps.
func ColormapNames() []string {
	var names []string
	for n := range colormaps {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
