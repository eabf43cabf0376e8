package threeds

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaxValidSupportedVersion(t *testing.T) {
	tests := []struct {
		name     string
		versions []string
		expected string
		ok       bool
	}{
		{"picks highest in range", []string{"2.1", "2.1", "2.2", "2.4"}, "2.2", true},
		{"none in range", []string{"1.0", "3.0"}, "", false},
		{"upper bound is exclusive", []string{"2.3", "2.3.0"}, "", false},
		{"lower bound is inclusive", []string{"2.0.9", "2.1.0"}, "2.1.0", true},
		{"patch versions compare numerically", []string{"2.2.0", "2.2.10", "2.2.9"}, "2.2.10", true},
		{"unparseable entries ignored", []string{"two", "2.x", "", "2.1.0"}, "2.1.0", true},
		{"empty list", nil, "", false},
		{"first of numerically equal wins", []string{"2.2", "2.2.0"}, "2.2", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := MaxValidSupportedVersion(tt.versions)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.expected, got)
		})
	}
}
