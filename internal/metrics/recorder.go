// Package metrics records protocol outcomes. Handlers depend on the Recorder
// interface; NoopRecorder is used when no ops listener is configured.
package metrics

import "time"

// ResultLabel enumerates operation outcome categories for counters.
type ResultLabel string

const (
	ResultSuccess  ResultLabel = "success"
	ResultNotFound ResultLabel = "not_found"
	ResultConflict ResultLabel = "conflict"
	ResultRejected ResultLabel = "rejected"
	ResultError    ResultLabel = "error"
)

// Recorder defines observability hooks for the state backend.
type Recorder interface {
	// ObserveOperation records one routed request; op is read, write, delete, lock, unlock or unmatched.
	ObserveOperation(op string, result ResultLabel, d time.Duration)
	// IncAuthFailure counts rejected credentials; reason is missing or invalid.
	IncAuthFailure(reason string)
}

// NoopRecorder is a Recorder that does nothing.
type NoopRecorder struct{}

func (NoopRecorder) ObserveOperation(string, ResultLabel, time.Duration) {}
func (NoopRecorder) IncAuthFailure(string)                               {}
