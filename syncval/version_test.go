package syncval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/mod/semver"
)

func TestVersionIsSemver(t *testing.T) {
	assert.True(t, semver.IsValid("v"+Version), Version)
	assert.Equal(t, "v"+Version, semver.Canonical("v"+Version))

	info := GetInfo()
	assert.Equal(t, Version, info.Version)
	assert.True(t, semver.IsValid(info.ScenarioFormat), info.ScenarioFormat)
	assert.NotEmpty(t, info.Model)
}
