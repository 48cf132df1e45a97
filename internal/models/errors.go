package models

import "errors"

var (
	// ErrValidation marks bad or missing user input. It never reaches the network.
	ErrValidation = errors.New("invalid input")
	// ErrNotReady is returned while a dependency is still initializing.
	ErrNotReady = errors.New("not ready")
	// ErrUnavailable is returned when a dependency failed to initialize and will not recover.
	ErrUnavailable = errors.New("unavailable")
	// ErrNotFound is returned when the encyclopedia has no summary for a query.
	ErrNotFound = errors.New("no summary found")
	// ErrTransport wraps network failures talking to an upstream.
	ErrTransport = errors.New("transport failure")
	// ErrPersistence wraps history backend failures.
	ErrPersistence = errors.New("history persistence failed")
	// ErrClassification wraps model inference failures.
	ErrClassification = errors.New("classification failed")
	// ErrUnsupported is returned for actions the entry type cannot perform.
	ErrUnsupported = errors.New("unsupported action")
	// ErrEntryNotFound is returned when a history entry id is unknown.
	ErrEntryNotFound = errors.New("history entry not found")
)
