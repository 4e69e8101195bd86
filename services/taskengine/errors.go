package taskengine

import "errors"

var (
	// ErrNotFound is returned when no task execution exists for an id.
	ErrNotFound = errors.New("task execution not found")

	// ErrQueueFull is returned when a queue's pending backlog is exhausted.
	ErrQueueFull = errors.New("task queue backlog is full")
)
