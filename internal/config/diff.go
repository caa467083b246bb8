package config

// ConfigDiff reports the operationally relevant changes between two loaded
// configs. The log level can apply to a running process; pipeline tunables
// take effect on restart, since the resolution engine is built once at
// startup.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// PipelineChanged is true when any resolution threshold or the vote
	// count changed. Queue capacity and invocation timeout bind per session
	// and are not tracked here.
	PipelineChanged bool
	NewPipeline     PipelineConfig
}

// Diff compares two configs and returns what changed.
func Diff(prev, next *Config) ConfigDiff {
	d := ConfigDiff{}

	if prev.Server.LogLevel != next.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = next.Server.LogLevel
	}

	if diffPipeline(prev.Pipeline, next.Pipeline) {
		d.PipelineChanged = true
		d.NewPipeline = next.Pipeline
	}

	return d
}

func diffPipeline(prev, next PipelineConfig) bool {
	if prev.CacheSimilarity != next.CacheSimilarity {
		return true
	}
	if prev.FuzzyAccept != next.FuzzyAccept {
		return true
	}
	if prev.ConfidenceThreshold != next.ConfidenceThreshold {
		return true
	}
	if prev.AmbiguityMargin != next.AmbiguityMargin {
		return true
	}
	if prev.VoteCount != next.VoteCount {
		return true
	}
	return false
}
