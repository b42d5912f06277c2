package loggerstorage

import (
	"fmt"
	"strings"
	"time"
)

// deltacomFlags maps the trailing quality character a Delta-Com logger
// appends to a value onto its flag name.
var deltacomFlags = map[byte]string{
	'#': "LOGOVERRUN",
	'$': "LOGNOISY",
	'%': "LOGOUTSIDE",
	'&': "LOGRANGE",
}

// deltacomFormat decodes Delta-Com output: whitespace delimited, an
// ISO timestamp first, values optionally suffixed with one flag
// character.
type deltacomFormat struct{}

func (deltacomFormat) matchesSubset(string) bool { return true }

func (deltacomFormat) timestamp(line string) (time.Time, error) {
	items := strings.Fields(line)
	if len(items) == 0 {
		return time.Time{}, fmt.Errorf("empty line")
	}
	return parseNaive(items[0], "")
}

func (deltacomFormat) item(line string, seq int) (string, string, error) {
	items := strings.Fields(line)
	if seq >= len(items) {
		return "", "", fmt.Errorf("insufficient fields: need at least %d, got %d", seq+1, len(items))
	}
	item := strings.TrimSpace(items[seq])
	if item == "" {
		return "", "", nil
	}
	if flag, ok := deltacomFlags[item[len(item)-1]]; ok {
		return item[:len(item)-1], flag, nil
	}
	return item, "", nil
}
