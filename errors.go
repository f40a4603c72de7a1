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
	"time"
)

// ConfigurationError is returned when a configuration value, such as a
// quality policy or colormap name, is not recognized.
type ConfigurationError struct {
	Option, Value string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("tempo: invalid %s %q", e.Option, e.Value)
}

// MissingFileError is returned when an input granule does not exist.
type MissingFileError struct {
	Path string
	Err  error
}

func (e *MissingFileError) Error() string {
	return fmt.Sprintf("tempo: granule file %s does not exist: %v", e.Path, e.Err)
}

func (e *MissingFileError) Unwrap() error { return e.Err }

// MissingFieldError is returned when a granule lacks a required variable.
type MissingFieldError struct {
	Path, Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("tempo: granule %s is missing required field %s", e.Path, e.Field)
}

// CoordinateMismatchError is returned when granules that are being combined
// do not share an identical spatial grid, or when two granules claim
// the same timestamp.
type CoordinateMismatchError struct {
	Path   string
	Reason string
}

func (e *CoordinateMismatchError) Error() string {
	return fmt.Sprintf("tempo: cannot combine %s: %s", e.Path, e.Reason)
}

// TimeIndexMismatchError is returned when the measurement and cloud
// series do not share the same time index.
type TimeIndexMismatchError struct {
	Measurement, Cloud []time.Time
}

func (e *TimeIndexMismatchError) Error() string {
	return fmt.Sprintf("tempo: measurement time index (%d steps) does not match cloud time index (%d steps)",
		len(e.Measurement), len(e.Cloud))
}

// InvalidBoundsError is returned when a chunk has a degenerate bounding box.
type InvalidBoundsError struct {
	Time                     time.Time
	Left, Bottom, Right, Top float64
}

func (e *InvalidBoundsError) Error() string {
	return fmt.Sprintf("tempo: chunk %s has degenerate bounds (left=%g, bottom=%g, right=%g, top=%g)",
		e.Time.Format(time.RFC3339), e.Left, e.Bottom, e.Right, e.Top)
}

// ReprojectionError is returned when a chunk cannot be reprojected.
type ReprojectionError struct {
	Time time.Time
	Err  error
}

func (e *ReprojectionError) Error() string {
	return fmt.Sprintf("tempo: reprojecting chunk %s: %v", e.Time.Format(time.RFC3339), e.Err)
}

func (e *ReprojectionError) Unwrap() error { return e.Err }
