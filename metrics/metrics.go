// Package metrics records facilitator and client events.
package metrics

import "time"

// Recorder counts events and observes operation latency.
// Labels understood by the Prometheus recorder: network, scheme, result.
type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}

type NoopRecorder struct{}

func (NoopRecorder) IncCounter(string, map[string]string)                    {}
func (NoopRecorder) ObserveLatency(string, time.Duration, map[string]string) {}
