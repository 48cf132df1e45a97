package models

import (
	"strings"
	"time"
)

// UnrecognizedImageQuery is recorded in history when an uploaded image is rejected by the gate.
const UnrecognizedImageQuery = "Unrecognized Image"

type EntryKind string

const (
	EntryText  EntryKind = "text"
	EntryImage EntryKind = "image"
)

type EntryStatus string

const (
	StatusFound        EntryStatus = "found"
	StatusNotFound     EntryStatus = "not_found"
	StatusUnrecognized EntryStatus = "unrecognized"
)

// SearchResult is a single resolved topic.
type SearchResult struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	Link    string `json:"link"`
}

// NoResult is the sentinel persisted for lookups that resolved to nothing.
var NoResult = SearchResult{Title: "No result found"}

// IsNoResult reports whether r is the sentinel value.
func (r SearchResult) IsNoResult() bool {
	return r == NoResult
}

// HistoryEntry records one completed search attempt.
type HistoryEntry struct {
	ID        string         `json:"id"`
	Query     string         `json:"query"`
	Kind      EntryKind      `json:"kind"`
	Status    EntryStatus    `json:"status"`
	Results   []SearchResult `json:"results,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Head returns the first result or the sentinel when none was stored.
func (e HistoryEntry) Head() SearchResult {
	if len(e.Results) == 0 {
		return NoResult
	}
	return e.Results[0]
}

// ClassificationLabel is one ranked label for an image.
type ClassificationLabel struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// NormalizeQuery trims raw user input. An empty return means the input is not a query.
func NormalizeQuery(raw string) string {
	return strings.TrimSpace(raw)
}
