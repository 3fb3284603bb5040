package metrics

import "time"

// NoopRecorder drops every observation.
type NoopRecorder struct{}

var _ Recorder = NoopRecorder{}

func (NoopRecorder) IncCounter(string, map[string]string)                    {}
func (NoopRecorder) AddCounter(string, float64, map[string]string)           {}
func (NoopRecorder) ObserveLatency(string, time.Duration, map[string]string) {}
