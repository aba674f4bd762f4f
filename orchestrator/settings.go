package orchestrator

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Settings is the configuration surface named in spec §6. IDMode is chosen
// per orchestrator instance at construction (spec §3) rather than loaded
// from file, so it is excluded from YAML unmarshaling.
type Settings struct {
	// SaveSnapshotRoughlyEveryXMessages triggers an automatic SaveSnapshot
	// after roughly this many persisted messages. 0 disables automatic
	// snapshots.
	SaveSnapshotRoughlyEveryXMessages uint32 `yaml:"save_snapshot_roughly_every_x_messages"`

	// PersistTimeouts controls whether a TaskTimedOut event is written when
	// a task's timer fires and its behavior does not handle the Timeout
	// sentinel. Recommended true (spec §9 Open Question) so recovery never
	// re-derives a timeout from wall-clock time.
	PersistTimeouts bool `yaml:"persist_timeouts"`
}

// DefaultSettings returns the engine's zero-config defaults.
func DefaultSettings() Settings {
	return Settings{
		SaveSnapshotRoughlyEveryXMessages: 0,
		PersistTimeouts:                   true,
	}
}

// LoadSettings unmarshals YAML into Settings starting from DefaultSettings,
// then validates the result. Mirrors the "unmarshal is the validator" style
// used to parse task-graph configuration in the retrieved go-command
// example (flow.ParseFlowSet).
func LoadSettings(data []byte) (Settings, error) {
	s := DefaultSettings()
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("parse settings: %w", err)
	}
	return s, s.Validate()
}

// Validate reports whether the settings are self-consistent. There is
// currently nothing that can be invalid, but the hook exists so future
// fields (and callers relying on LoadSettings' contract) get the same
// unmarshal-then-validate structure other config surfaces in this codebase
// use.
func (s Settings) Validate() error {
	return nil
}
