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
	"reflect"
	"strings"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"
)

// ncVar is a variable read from a granule, with its values widened to
// float64 in row-major order. CF attributes have not been applied.
type ncVar struct {
	values []float64
	dims   []int
	attrs  map[string]interface{}
}

// ncGroup is a netCDF group: the root of a file or one of its subgroups.
type ncGroup interface {
	variable(name string) (*ncVar, error)
	subgroup(name string) (ncGroup, error)
	attribute(name string) (interface{}, bool)
}

// openGranule opens a netCDF-4 (HDF5) or netCDF classic file.
func openGranule(path string) (ncGroup, func(), error) {
	g, err := netcdf.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return nativeGroup{g}, func() { g.Close() }, nil
}

type nativeGroup struct{ g api.Group }

func (n nativeGroup) variable(name string) (*ncVar, error) {
	v, err := n.g.GetVariable(name)
	if err != nil {
		return nil, err
	}
	attrs := make(map[string]interface{})
	if v.Attributes != nil {
		for _, k := range v.Attributes.Keys() {
			attrs[k], _ = v.Attributes.Get(k)
		}
	}
	unsigned := strings.TrimRight(attrString(attrs["_Unsigned"]), "\x00") == "true"
	values, dims, err := flatten(v.Values, unsigned)
	if err != nil {
		return nil, fmt.Errorf("variable %s: %v", name, err)
	}
	return &ncVar{values: values, dims: dims, attrs: attrs}, nil
}

func (n nativeGroup) subgroup(name string) (ncGroup, error) {
	g, err := n.g.GetGroup(name)
	if err != nil {
		return nil, err
	}
	return nativeGroup{g}, nil
}

func (n nativeGroup) attribute(name string) (interface{}, bool) {
	a := n.g.Attributes()
	if a == nil {
		return nil, false
	}
	return a.Get(name)
}

// lookupVariable finds the variable named "<group>/.../<variable>" by
// walking the group hierarchy. Files with no groups, such as classic files
// written by a subsetter, may instead hold the qualified name at the root.
func lookupVariable(root ncGroup, name string) (*ncVar, error) {
	parts := strings.Split(strings.Trim(name, "/"), "/")
	g := root
	var err error
	for _, p := range parts[:len(parts)-1] {
		if g, err = g.subgroup(p); err != nil {
			break
		}
	}
	if err == nil {
		if v, err := g.variable(parts[len(parts)-1]); err == nil {
			return v, nil
		}
	}
	if len(parts) > 1 {
		return root.variable(name)
	}
	return nil, fmt.Errorf("variable %s not found", name)
}

// flatten converts a scalar or nested slice of numbers to a flat float64
// slice and its shape. If unsigned is true, signed integers are
// reinterpreted as unsigned values of the same width.
func flatten(values interface{}, unsigned bool) ([]float64, []int, error) {
	v := reflect.ValueOf(values)
	var dims []int
	for t := v; t.Kind() == reflect.Slice; {
		dims = append(dims, t.Len())
		if t.Len() == 0 {
			break
		}
		t = t.Index(0)
	}
	var out []float64
	var walk func(v reflect.Value, depth int) error
	walk = func(v reflect.Value, depth int) error {
		if v.Kind() == reflect.Slice {
			if depth >= len(dims) || v.Len() != dims[depth] {
				return fmt.Errorf("ragged array")
			}
			for i := 0; i < v.Len(); i++ {
				if err := walk(v.Index(i), depth+1); err != nil {
					return err
				}
			}
			return nil
		}
		f, ok := number(v, unsigned)
		if !ok {
			return fmt.Errorf("unsupported type %s", v.Type())
		}
		out = append(out, f)
		return nil
	}
	if !v.IsValid() {
		return nil, nil, fmt.Errorf("no values")
	}
	if err := walk(v, 0); err != nil {
		return nil, nil, err
	}
	return out, dims, nil
}

func number(v reflect.Value, unsigned bool) (float64, bool) {
	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		return v.Float(), true
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64, reflect.Int:
		if unsigned {
			bits := v.Type().Bits()
			return float64(uint64(v.Int()) & (1<<uint(bits) - 1)), true
		}
		return float64(v.Int()), true
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uint:
		return float64(v.Uint()), true
	}
	return 0, false
}

// attrFloat returns the first value of a numeric attribute.
func attrFloat(attrs map[string]interface{}, name string) (float64, bool) {
	a, ok := attrs[name]
	if !ok || a == nil {
		return 0, false
	}
	vals, _, err := flatten(a, false)
	if err != nil || len(vals) == 0 {
		return 0, false
	}
	return vals[0], true
}

func attrString(a interface{}) string {
	switch s := a.(type) {
	case string:
		return s
	case []string:
		return strings.Join(s, "")
	}
	return ""
}
