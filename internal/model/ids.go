// Package model defines the entities of the control plane's data model
// (spec §3): Run, ControlEvent, WorkerHeartbeat, QueryExecution,
// MetricSnapshot, and StepRecord.
package model

import "github.com/google/uuid"

// NewRunID generates an opaque 128-bit run identity.
func NewRunID() string {
	return uuid.New().String()
}

// NewEventID generates an opaque control-event identity.
func NewEventID() string {
	return uuid.New().String()
}

// NewWorkerID generates a worker identity unique to the process.
func NewWorkerID() string {
	return uuid.New().String()
}
