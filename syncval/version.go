package syncval

import "github.com/kolkov/syncval/internal/syncval/scenario"

// Version is the validator release, in semantic version form.
const Version = "0.1.0"

// Info describes the validator build.
type Info struct {
	Version string

	// ScenarioFormat is the newest scenario format the build reads.
	ScenarioFormat string

	// Model names the ordering model used for hazard detection.
	Model string
}

// GetInfo reports the release, the scenario format and the ordering model.
func GetInfo() Info {
	return Info{
		Version:        Version,
		ScenarioFormat: scenario.Format,
		Model:          "per-queue vector clocks over shared access contexts",
	}
}
