package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// StreamTuning holds the per-stream polling knobs. All durations are
// milliseconds in the YAML file.
type StreamTuning struct {
	IntervalMs   int `yaml:"interval_ms"`
	TimeoutMs    int `yaml:"timeout_ms"`
	RetryDelayMs int `yaml:"retry_delay_ms"`
	RetryLimit   int `yaml:"retry_limit"`
	StuckMs      int `yaml:"stuck_ms"`
}

type StreamsConfig struct {
	Streams map[string]StreamTuning `yaml:"streams"`
}

// defaultTuning matches the values the dashboard shipped with: 5s fetch
// timeout, 2 retries with a 2s delay, and a 6s stuck threshold so the
// watchdog fires even when the timeout signal itself is lost.
var defaultTuning = StreamTuning{
	IntervalMs:   1000,
	TimeoutMs:    5000,
	RetryDelayMs: 2000,
	RetryLimit:   2,
	StuckMs:      6000,
}

func LoadStreams(path string) (StreamsConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return StreamsConfig{Streams: map[string]StreamTuning{}}, fmt.Errorf("read streams config: %w", err)
	}

	var cfg StreamsConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return StreamsConfig{Streams: map[string]StreamTuning{}}, fmt.Errorf("parse streams config: %w", err)
	}
	if cfg.Streams == nil {
		cfg.Streams = map[string]StreamTuning{}
	}
	return cfg, nil
}

// Tuning returns the stream's tuning with defaults filled in for any
// zero-valued field, or the full defaults when the stream is absent.
func (sc StreamsConfig) Tuning(stream string) StreamTuning {
	t, ok := sc.Streams[stream]
	if !ok {
		return defaultTuning
	}
	if t.IntervalMs <= 0 {
		t.IntervalMs = defaultTuning.IntervalMs
	}
	if t.TimeoutMs <= 0 {
		t.TimeoutMs = defaultTuning.TimeoutMs
	}
	if t.RetryDelayMs <= 0 {
		t.RetryDelayMs = defaultTuning.RetryDelayMs
	}
	if t.RetryLimit <= 0 {
		t.RetryLimit = defaultTuning.RetryLimit
	}
	if t.StuckMs <= 0 {
		t.StuckMs = defaultTuning.StuckMs
	}
	return t
}

func (t StreamTuning) Interval() time.Duration   { return time.Duration(t.IntervalMs) * time.Millisecond }
func (t StreamTuning) Timeout() time.Duration    { return time.Duration(t.TimeoutMs) * time.Millisecond }
func (t StreamTuning) RetryDelay() time.Duration { return time.Duration(t.RetryDelayMs) * time.Millisecond }
func (t StreamTuning) Stuck() time.Duration      { return time.Duration(t.StuckMs) * time.Millisecond }
