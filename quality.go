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
	"strings"

	"github.com/ctessum/sparse"
)

// QualityPolicy selects which retrievals are considered scientifically
// usable.
type QualityPolicy int

// The available quality policies.
const (
	QualityHigh QualityPolicy = iota
	QualityMedium
	QualityLow
	QualitySVS
	QualityAll
)

var policyNames = [...]string{"high", "medium", "low", "svs", "all"}

func (p QualityPolicy) String() string {
	if p < 0 || int(p) >= len(policyNames) {
		return fmt.Sprintf("QualityPolicy(%d)", int(p))
	}
	return policyNames[p]
}

// ParseQualityPolicy returns the policy with the given name.
// Unknown names return a *ConfigurationError.
func ParseQualityPolicy(name string) (QualityPolicy, error) {
	for i, n := range policyNames {
		if strings.EqualFold(n, name) {
			return QualityPolicy(i), nil
		}
	}
	return 0, &ConfigurationError{Option: "quality policy", Value: name}
}

// qualityRule is a conjunction of threshold predicates. A pixel passes when
// every enabled predicate holds; NaN values fail every predicate.
type qualityRule struct {
	checkSZA     bool
	maxSZA       float64
	inclusiveSZA bool
	maxFlag      float64

	// maxCloud, if not NaN, also requires cloud fraction <= maxCloud.
	maxCloud float64
}

func (r qualityRule) valid(sza, flag, cloud float64) bool {
	if r.checkSZA {
		if r.inclusiveSZA && !(sza <= r.maxSZA) {
			return false
		}
		if !r.inclusiveSZA && !(sza < r.maxSZA) {
			return false
		}
	}
	if !(flag <= r.maxFlag) {
		return false
	}
	if !math.IsNaN(r.maxCloud) && !(cloud <= r.maxCloud) {
		return false
	}
	return true
}

var nan = math.NaN()

var qualityRules = map[QualityPolicy]qualityRule{
	QualityHigh:   {checkSZA: true, maxSZA: 80, maxFlag: 0, maxCloud: nan},
	QualityMedium: {checkSZA: true, maxSZA: 80, maxFlag: 0, maxCloud: nan},
	QualityLow:    {checkSZA: true, maxSZA: 80, maxFlag: 0, maxCloud: nan},
	// Cloud filtering for svs happens after reprojection, see Composite.
	QualitySVS: {checkSZA: true, maxSZA: 80, inclusiveSZA: true, maxFlag: 1, maxCloud: nan},
	QualityAll: {maxFlag: 1, maxCloud: nan},
}

// CloudThreshold returns the cloud fraction above which a pixel is
// considered cloud covered under policy p.
func CloudThreshold(p QualityPolicy) float64 {
	switch p {
	case QualityHigh:
		return 0.2
	case QualityMedium:
		return 0.4
	case QualitySVS:
		return 0.5
	default:
		return 0.0
	}
}

// Mask is a boolean raster that is true where a pixel is usable.
type Mask struct {
	Shape []int
	Valid []bool
}

// Count returns the number of valid pixels.
func (m *Mask) Count() int {
	var n int
	for _, v := range m.Valid {
		if v {
			n++
		}
	}
	return n
}

// Apply returns a copy of a with NaN wherever the mask is false.
func (m *Mask) Apply(a *sparse.DenseArray) (*sparse.DenseArray, error) {
	if len(a.Elements) != len(m.Valid) {
		return nil, fmt.Errorf("tempo: mask has %d pixels but array has %d", len(m.Valid), len(a.Elements))
	}
	out := a.Copy()
	for i, ok := range m.Valid {
		if !ok {
			out.Elements[i] = nan
		}
	}
	return out, nil
}

// NewMask computes the quality mask of the given solar zenith angle (degrees),
// quality flag, and cloud fraction rasters under policy. All three rasters
// must have the same shape; cloud may be nil if the policy has no cloud bound.
func NewMask(sza, flag, cloud *sparse.DenseArray, policy QualityPolicy) (*Mask, error) {
	rule, ok := qualityRules[policy]
	if !ok {
		return nil, &ConfigurationError{Option: "quality policy", Value: policy.String()}
	}
	if !sameShape(sza, flag) {
		return nil, fmt.Errorf("tempo: solar zenith shape %v does not match quality flag shape %v", sza.Shape, flag.Shape)
	}
	if cloud != nil && !sameShape(sza, cloud) {
		return nil, fmt.Errorf("tempo: solar zenith shape %v does not match cloud fraction shape %v", sza.Shape, cloud.Shape)
	}
	m := &Mask{
		Shape: append([]int(nil), sza.Shape...),
		Valid: make([]bool, len(sza.Elements)),
	}
	for i := range m.Valid {
		c := nan
		if cloud != nil {
			c = cloud.Elements[i]
		}
		m.Valid[i] = rule.valid(sza.Elements[i], flag.Elements[i], c)
	}
	return m, nil
}
