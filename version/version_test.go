package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInfoString(t *testing.T) {
	tests := []struct {
		name string
		info Info
		want string
	}{
		{"unknown commit", Info{GoVersion: "go1.24.4", Platform: "linux/amd64"}, "commit unknown, go1.24.4 linux/amd64"},
		{"short commit", Info{Commit: "0123456789abcdef", GoVersion: "go1.24.4", Platform: "darwin/arm64"}, "commit 0123456789ab, go1.24.4 darwin/arm64"},
		{"dirty with date", Info{Commit: "abc", Modified: true, BuildDate: "2026-01-02", GoVersion: "go1.24.4", Platform: "linux/arm64"}, "commit abc-dirty, go1.24.4 linux/arm64, built 2026-01-02"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.info.String())
		})
	}
}

func TestGetInfo(t *testing.T) {
	info := GetInfo()
	assert.NotEmpty(t, info.Version)
	assert.NotEmpty(t, info.GoVersion)
	assert.Contains(t, info.Platform, "/")
}
