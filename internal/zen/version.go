package zen

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is a positive Zen version or Latest. On create Latest means the
// next free version, on read it means the highest existing one.
type Version int

const Latest Version = 0

func (v Version) IsLatest() bool {
	return v == Latest
}

func (v Version) String() string {
	if v.IsLatest() {
		return "latest"
	}
	return strconv.Itoa(int(v))
}

// ParseVersion accepts "latest", "auto" or a positive integer.
func ParseVersion(raw string) (Version, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "latest", "auto":
		return Latest, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid version %q: must be a positive integer, latest or auto", raw)
	}
	return Version(n), nil
}
