package config_test

import (
	"testing"

	"github.com/fastworkflow/fastworkflow/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogInfo},
		Pipeline: config.PipelineConfig{
			CacheSimilarity:     0.85,
			FuzzyAccept:         0.7,
			ConfidenceThreshold: 0.9,
			AmbiguityMargin:     0.1,
			VoteCount:           3,
		},
	}
	d := config.Diff(cfg, cfg)
	if d.LogLevelChanged {
		t.Error("expected LogLevelChanged=false for identical configs")
	}
	if d.PipelineChanged {
		t.Error("expected PipelineChanged=false for identical configs")
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Server: config.ServerConfig{LogLevel: config.LogInfo}}
	new := &config.Config{Server: config.ServerConfig{LogLevel: config.LogDebug}}

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
}

func TestDiff_ThresholdChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Pipeline: config.PipelineConfig{CacheSimilarity: 0.85, FuzzyAccept: 0.7},
	}
	new := &config.Config{
		Pipeline: config.PipelineConfig{CacheSimilarity: 0.9, FuzzyAccept: 0.7},
	}

	d := config.Diff(old, new)
	if !d.PipelineChanged {
		t.Error("expected PipelineChanged=true")
	}
	if d.NewPipeline.CacheSimilarity != 0.9 {
		t.Errorf("expected NewPipeline.CacheSimilarity=0.9, got %v", d.NewPipeline.CacheSimilarity)
	}
	if d.LogLevelChanged {
		t.Error("expected LogLevelChanged=false")
	}
}

func TestDiff_VoteCountChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Pipeline: config.PipelineConfig{VoteCount: 1}}
	new := &config.Config{Pipeline: config.PipelineConfig{VoteCount: 7}}

	d := config.Diff(old, new)
	if !d.PipelineChanged {
		t.Error("expected PipelineChanged=true")
	}
	if d.NewPipeline.VoteCount != 7 {
		t.Errorf("expected NewPipeline.VoteCount=7, got %d", d.NewPipeline.VoteCount)
	}
}

func TestDiff_QueueCapacityIgnored(t *testing.T) {
	t.Parallel()
	// Queue capacity applies to new sessions only; changing it is not a
	// hot-reloadable diff.
	old := &config.Config{Pipeline: config.PipelineConfig{QueueCapacity: 32}}
	new := &config.Config{Pipeline: config.PipelineConfig{QueueCapacity: 64}}

	d := config.Diff(old, new)
	if d.PipelineChanged {
		t.Error("expected PipelineChanged=false for queue capacity change")
	}
}

func TestDiff_BothChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Server:   config.ServerConfig{LogLevel: config.LogWarn},
		Pipeline: config.PipelineConfig{AmbiguityMargin: 0.1},
	}
	new := &config.Config{
		Server:   config.ServerConfig{LogLevel: config.LogError},
		Pipeline: config.PipelineConfig{AmbiguityMargin: 0.02},
	}

	d := config.Diff(old, new)
	if !d.LogLevelChanged || !d.PipelineChanged {
		t.Errorf("expected both changes, got LogLevelChanged=%v PipelineChanged=%v",
			d.LogLevelChanged, d.PipelineChanged)
	}
}
