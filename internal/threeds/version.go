package threeds

import (
	"strconv"
	"strings"
)

var (
	minProtocolVersion = []int{2, 1}
	maxProtocolVersion = []int{2, 3}
)

// DefaultProtocolVersions is used when the configuration lists none.
var DefaultProtocolVersions = []string{"2.1.0", "2.2.0"}

// MaxValidSupportedVersion returns the numerically greatest version in
// [2.1, 2.3) from versions. Duplicates and unparseable entries are ignored.
func MaxValidSupportedVersion(versions []string) (string, bool) {
	var (
		best      string
		bestParts []int
		seen      = make(map[string]struct{}, len(versions))
	)
	for _, v := range versions {
		v = strings.TrimSpace(v)
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}

		parts, ok := parseVersion(v)
		if !ok || compareVersions(parts, minProtocolVersion) < 0 || compareVersions(parts, maxProtocolVersion) >= 0 {
			continue
		}
		if bestParts == nil || compareVersions(parts, bestParts) > 0 {
			best, bestParts = v, parts
		}
	}
	return best, bestParts != nil
}

func parseVersion(v string) ([]int, bool) {
	if v == "" {
		return nil, false
	}
	fields := strings.Split(v, ".")
	parts := make([]int, len(fields))
	for i, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil || n < 0 {
			return nil, false
		}
		parts[i] = n
	}
	return parts, true
}

// compareVersions treats missing trailing components as zero.
func compareVersions(a, b []int) int {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		var x, y int
		if i < len(a) {
			x = a[i]
		}
		if i < len(b) {
			y = b[i]
		}
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
	}
	return 0
}
