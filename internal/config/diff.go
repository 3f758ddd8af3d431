package config

import "reflect"

// ConfigDiff describes what changed between two configs. Log level and
// stability thresholds are applied live; every other changed section is
// listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	ThresholdsChanged bool
	CommitThreshold   float64
	DisplayThreshold  float64

	// RestartRequired names top-level sections whose changes take effect
	// only after a restart.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.ThresholdsChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	oc, od := old.Pipeline.Thresholds()
	nc, nd := new.Pipeline.Thresholds()
	if oc != nc || od != nd {
		d.ThresholdsChanged = true
		d.CommitThreshold, d.DisplayThreshold = nc, nd
	}

	// Compare the remaining fields with the live ones masked out.
	oldSrv, newSrv := old.Server, new.Server
	oldSrv.LogLevel, newSrv.LogLevel = "", ""
	if !reflect.DeepEqual(oldSrv, newSrv) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	op, np := old.Pipeline, new.Pipeline
	op.CommitThreshold, op.DisplayThreshold = 0, 0
	np.CommitThreshold, np.DisplayThreshold = 0, 0
	if op != np {
		d.RestartRequired = append(d.RestartRequired, "pipeline")
	}
	for _, s := range []struct {
		name     string
		old, new any
	}{
		{"classifier", old.Classifier, new.Classifier},
		{"generation", old.Generation, new.Generation},
		{"tts", old.TTS, new.TTS},
		{"settings", old.Settings, new.Settings},
	} {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}
	return d
}
