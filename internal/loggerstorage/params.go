package loggerstorage

import (
	"sort"
	"strconv"
	"strings"
)

// Parameters is the flat string-to-string parameter set of one storage
// section, as it appears in the run configuration.
type Parameters map[string]string

// paramSet is a set of parameter names.
type paramSet map[string]bool

func newParamSet(names ...string) paramSet {
	s := make(paramSet, len(names))
	for _, n := range names {
		s[n] = true
	}
	return s
}

// union returns a new set containing the members of s and all others.
func (s paramSet) union(others ...paramSet) paramSet {
	result := make(paramSet, len(s))
	for n := range s {
		result[n] = true
	}
	for _, other := range others {
		for n := range other {
			result[n] = true
		}
	}
	return result
}

// checkParameters verifies that every required parameter is present and
// that no parameter outside required∪optional was given.
func checkParameters(params Parameters, required, optional paramSet) error {
	missing := make([]string, 0)
	for name := range required {
		if _, ok := params[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return configErrorf("parameter %q is required", missing[0])
	}

	unknown := make([]string, 0)
	for name := range params {
		if !required[name] && !optional[name] {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return configErrorf("unknown parameter %q", unknown[0])
	}
	return nil
}

// intParam parses an optional integer parameter, returning def when the
// parameter is absent or empty.
func intParam(params Parameters, name string, def int) (int, error) {
	raw, ok := params[name]
	if !ok || raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, configErrorf("parameter %q must be an integer, got %q", name, raw)
	}
	return v, nil
}

// fieldsParam parses the "fields" parameter: a comma-separated ordered
// list of series group ids, 0 meaning "ignore this field".
func fieldsParam(raw string) ([]int, error) {
	var fields []int
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		id, err := strconv.Atoi(item)
		if err != nil {
			return nil, configErrorf("parameter \"fields\" contains invalid id %q", item)
		}
		if id < 0 {
			return nil, configErrorf("parameter \"fields\" contains negative id %d", id)
		}
		fields = append(fields, id)
	}
	if len(fields) == 0 {
		return nil, configErrorf("parameter \"fields\" must list at least one series group id")
	}
	return fields, nil
}

// groupIDsOf returns the distinct non-zero entries of fields, in field
// order.
func groupIDsOf(fields []int) []int {
	seen := make(map[int]bool, len(fields))
	var ids []int
	for _, id := range fields {
		if id == 0 || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}
