package models

import (
	"time"

	"github.com/lyzr/minutes/common/journal"
)

// MinutesItem is one entry of a minutes listing.
type MinutesItem struct {
	Name         string    `json:"name"`
	Title        string    `json:"title"`
	JobID        string    `json:"job_id"`
	Kind         string    `json:"kind"`
	LastModified time.Time `json:"last_modified"`
	Size         int64     `json:"size"`
}

// MinutesStatus is returned by the status query.
type MinutesStatus struct {
	Status  string          `json:"status"`
	JobID   string          `json:"job_id,omitempty"`
	Name    string          `json:"name"`
	Text    string          `json:"text,omitempty"`
	History []journal.Event `json:"history,omitempty"`
}

// Status values.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
)

// RegenerateRequest asks for a new minutes version from an existing transcript.
type RegenerateRequest struct {
	TranscriptName string `json:"transcript_name,omitempty"`
	Name           string `json:"name,omitempty"`
	Prompt         string `json:"prompt,omitempty"`
	Preset         string `json:"preset,omitempty"`
}

// RegenerateResponse carries the newly written version.
type RegenerateResponse struct {
	Name           string `json:"name"`
	TranscriptName string `json:"transcript_name"`
	Text           string `json:"text"`
}

// TranslateRequest translates a minutes blob or raw text.
type TranslateRequest struct {
	Name string `json:"name,omitempty"`
	Text string `json:"text,omitempty"`
	To   string `json:"to"`
	From string `json:"from,omitempty"`
	Save bool   `json:"save,omitempty"`
}

// TranslateResponse is the translated text plus the saved name when requested.
type TranslateResponse struct {
	Text             string `json:"text"`
	To               string `json:"to"`
	DetectedLanguage string `json:"detected_language,omitempty"`
	SavedName        string `json:"saved_name,omitempty"`
}

// UploadResponse acknowledges an accepted upload.
type UploadResponse struct {
	Message string `json:"message"`
	Name    string `json:"name"`
	JobHint string `json:"job_hint,omitempty"`
}

// EventResult reports the outcome of one event in a pushed batch.
type EventResult struct {
	EventID string `json:"event_id,omitempty"`
	Blob    string `json:"blob,omitempty"`
	Status  string `json:"status"`
	Code    int    `json:"code"`
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Event result statuses.
const (
	EventProcessed = "processed"
	EventSkipped   = "skipped"
	EventFailed    = "failed"
)

// BatchResponse aggregates per-event results.
type BatchResponse struct {
	Results []EventResult `json:"results"`
}
