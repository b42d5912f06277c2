package loggerstorage

import (
	"math"
	"strconv"
	"strings"
)

// nullTolerance is the absolute tolerance used when the null marker is
// numeric.
const nullTolerance = 1e-6

// nullSpec decides whether a raw field value stands for a missing
// measurement. The marker is either a literal string or, when it parses
// as a number, a numeric value compared within nullTolerance.
type nullSpec struct {
	set     bool
	marker  string
	numeric bool
	value   float64
}

// parseNullSpec builds a nullSpec from the "null" (or legacy "nullstr")
// parameter value.
func parseNullSpec(marker string) nullSpec {
	spec := nullSpec{set: true, marker: marker}
	if v, err := strconv.ParseFloat(marker, 64); err == nil {
		spec.numeric = true
		spec.value = v
	}
	return spec
}

// isNull reports whether raw stands for a missing value. Without a
// configured marker nothing is ever null through this path.
func (n nullSpec) isNull(raw string) bool {
	if !n.set {
		return false
	}
	raw = strings.TrimSpace(raw)
	if raw == n.marker {
		return true
	}
	if n.numeric {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			return math.Abs(v-n.value) < nullTolerance
		}
	}
	return false
}
