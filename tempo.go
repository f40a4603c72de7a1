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

// Package tempo converts TEMPO satellite NO2 granules into web map imagery.
//
// Granules are read and quality masked (Loader), merged into measurement and
// cloud fraction time series (Combine), split into one chunk per time step
// (Plan), resampled into Web Mercator or a geographic grid at full and half
// resolution (Reproject), cloud masked (Composite) and written as palette PNG
// images (Saver). Pipeline runs these steps over a set of files and writes
// the bounds and times metadata used by the web map.
package tempo

// Version gives the version number.
const Version = "0.3.0"
