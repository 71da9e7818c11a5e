package version

import (
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFillFromBuildSettings(t *testing.T) {
	settings := []debug.BuildSetting{
		{Key: "vcs.revision", Value: "3f2a9c1d0e5b"},
		{Key: "vcs.time", Value: "2026-10-01T12:00:00Z"},
		{Key: "vcs.modified", Value: "true"},
	}

	t.Run("vcs stamp fills gaps", func(t *testing.T) {
		info := Info{Version: devLabel}
		fillFromBuildSettings(&info, settings)
		assert.Equal(t, "3f2a9c1d0e5b", info.CommitHash)
		assert.Equal(t, "2026-10-01T12:00:00Z", info.BuildTime)
		assert.True(t, info.Modified)
		assert.Equal(t, "chorus-jobs dev (commit 3f2a9c1, built 2026-10-01T12:00:00Z) +modified", info.String())
		assert.Equal(t, "chorus-jobs/dev-3f2a9c1", info.ClientID())
	})

	t.Run("ldflags win", func(t *testing.T) {
		info := Info{Version: "1.2.0", CommitHash: "abc", BuildTime: "yesterday"}
		fillFromBuildSettings(&info, settings)
		assert.Equal(t, "abc", info.CommitHash)
		assert.Equal(t, "yesterday", info.BuildTime)
		assert.Equal(t, "abc", info.Short())
		assert.Equal(t, "chorus-jobs/1.2.0", info.ClientID())
	})
}

func TestGet(t *testing.T) {
	info := Get()
	assert.NotEmpty(t, info.Version)
	assert.NotEmpty(t, info.CommitHash)
	assert.NotEmpty(t, info.GoVersion)
	assert.Contains(t, info.Platform, "/")
}
