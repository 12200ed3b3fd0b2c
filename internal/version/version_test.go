package version

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetMinorVersion(t *testing.T) {
	tests := []struct {
		version string
		want    string
	}{
		{"0.4.0", "0.4"},
		{"1.12.3", "1.12"},
		{"2.0", "2.0"},
		{"3", ""},
		{"", ""},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, GetMinorVersion(tt.version), "version %q", tt.version)
	}
}

func TestIsVersionGreaterOrEqualThan(t *testing.T) {
	tests := []struct {
		version string
		target  string
		want    bool
	}{
		{"0.5.0", "0.4.0", true},
		{"0.4.0", "0.4.0", true},
		{"0.4.0", "0.5.0", false},
		{"v1.2.0", "1.1.9", true},
		{"1.2", "v1.2", true},
		{"0.4", "0.10", false},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, IsVersionGreaterOrEqualThan(tt.version, tt.target), "%q >= %q", tt.version, tt.target)
	}
}

func TestGetCurrentVersion(t *testing.T) {
	require.Equal(t, Version+"-dev", GetCurrentVersion("dev"))
	require.Equal(t, Version+"-demo", GetCurrentVersion("demo"))
	require.Equal(t, Version, GetCurrentVersion("prod"))
}
