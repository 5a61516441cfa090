package version

import (
	"runtime"
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
)

// stamp sets the build metadata for one test.
func stamp(t *testing.T, version, commit, date string, modified bool) {
	t.Helper()
	v, c, d, m := Version, Commit, Date, Modified
	t.Cleanup(func() { Version, Commit, Date, Modified = v, c, d, m })
	Version, Commit, Date, Modified = version, commit, date, modified
}

func TestInfo(t *testing.T) {
	stamp(t, "1.2.3", "abc1234567890", "2026-01-15", false)

	info := Info()
	assert.Equal(t, "mailroom 1.2.3 (commit: abc1234, built: 2026-01-15, "+runtime.GOOS+"/"+runtime.GOARCH+")", info)
}

func TestInfoMarksDirtyBuilds(t *testing.T) {
	stamp(t, "1.2.3", "abc1234567890", "2026-01-15", true)
	assert.Contains(t, Info(), "commit: abc1234-dirty")
}

func TestFromBuildInfo(t *testing.T) {
	bi := &debug.BuildInfo{
		Main: debug.Module{Path: "github.com/soyeahso/mailroom", Version: "v0.3.1"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "0123456789abcdef"},
			{Key: "vcs.time", Value: "2026-09-30T10:00:00Z"},
			{Key: "vcs.modified", Value: "true"},
		},
	}

	t.Run("fills defaults", func(t *testing.T) {
		stamp(t, "dev", "unknown", "unknown", false)
		fromBuildInfo(bi)
		assert.Equal(t, "v0.3.1", Version)
		assert.Equal(t, "0123456789abcdef", Commit)
		assert.Equal(t, "2026-09-30T10:00:00Z", Date)
		assert.True(t, Modified)
	})

	t.Run("ldflags win", func(t *testing.T) {
		stamp(t, "1.0.0", "feedbee", "2026-01-01", false)
		fromBuildInfo(bi)
		assert.Equal(t, "1.0.0", Version)
		assert.Equal(t, "feedbee", Commit)
		assert.Equal(t, "2026-01-01", Date)
	})

	t.Run("devel main module", func(t *testing.T) {
		stamp(t, "dev", "unknown", "unknown", false)
		fromBuildInfo(&debug.BuildInfo{Main: debug.Module{Version: "(devel)"}})
		assert.Equal(t, "dev", Version)
		assert.Equal(t, "unknown", Commit)
	})
}

func TestShort(t *testing.T) {
	for in, want := range map[string]string{
		"abcdefghij": "abcdefg",
		"1234567":    "1234567",
		"abc":        "abc",
		"":           "",
	} {
		assert.Equal(t, want, short(in), in)
	}
}

func TestUserAgent(t *testing.T) {
	stamp(t, "0.4.0", Commit, Date, Modified)
	assert.Equal(t, "mailroom/0.4.0", UserAgent())
}
