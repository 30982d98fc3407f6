// Package task defines the wire model for preprocess tasks and the
// status lifecycle the consumer reports back to the result queue.
package task

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the task lifecycle state.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusDone       Status = "DONE"
	StatusFailed     Status = "FAILED"
)

// String satisfies fmt.Stringer.
func (s Status) String() string { return string(s) }

// ParseStatus normalizes a wire status value; an unrecognized value
// falls back to PENDING rather than erroring.
func ParseStatus(s string) Status {
	switch Status(strings.ToUpper(s)) {
	case StatusPending, StatusProcessing, StatusDone, StatusFailed:
		return Status(strings.ToUpper(s))
	default:
		return StatusPending
	}
}

// Author is a document contributor.
type Author struct {
	Name        string `json:"name"`
	Institution string `json:"institution"`
}

// Keyword is a single document keyword tag.
type Keyword struct {
	Name string `json:"name"`
}

// Document describes the source file a task asks the pipeline to process.
type Document struct {
	Title           string     `json:"title"`
	Authors         []Author   `json:"authors"`
	Keywords        []Keyword  `json:"keywords"`
	FileName        string     `json:"fileName"`
	DocType         string     `json:"docType"`
	PublicationDate *time.Time `json:"publicationDate,omitempty"`
	Language        string     `json:"language,omitempty"`

	// Bucket optionally overrides the PDF bucket the pipeline downloads
	// FileName from. Empty means fall back to the configured default.
	Bucket string `json:"bucket,omitempty"`
}

// Metadata is the document-derived row metadata persisted alongside
// every chunk's embedding.
type Metadata struct {
	Authors         []Author  `json:"authors"`
	Keywords        []Keyword `json:"keywords"`
	Title           string    `json:"title"`
	PublicationDate *string   `json:"publicationDate"`
	Language        string    `json:"language"`
}

// ToMetadata builds the per-row metadata for this document.
func (d Document) ToMetadata() Metadata {
	var pubDate *string
	if d.PublicationDate != nil {
		s := d.PublicationDate.Format(time.RFC3339)
		pubDate = &s
	}
	lang := d.Language
	if lang == "" {
		lang = "unknown"
	}
	return Metadata{
		Authors:         d.Authors,
		Keywords:        d.Keywords,
		Title:           d.Title,
		PublicationDate: pubDate,
		Language:        lang,
	}
}

// Task is a single preprocess job as it travels the task queue.
type Task struct {
	TaskID      uuid.UUID  `json:"taskId"`
	Status      Status     `json:"status"`
	Document    Document   `json:"document"`
	TaskType    string     `json:"taskType,omitempty"`
	Collection  string     `json:"destinationCollection,omitempty"`
	Partition   string     `json:"destinationPartition,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	ProcessedAt *time.Time `json:"processedAt,omitempty"`
	FinishedAt  *time.Time `json:"finishedAt,omitempty"`
}

// StatusMessage is the lifecycle update published to the result queue.
type StatusMessage struct {
	TaskID   string `json:"taskId"`
	Status   string `json:"status"`
	DateTime string `json:"dateTime,omitempty"`
}

// ToStatusMessage builds the response envelope for the task's current
// status: dateTime is processed_at while PROCESSING, finished_at for
// DONE/FAILED, and omitted otherwise.
func (t Task) ToStatusMessage() StatusMessage {
	msg := StatusMessage{TaskID: t.TaskID.String(), Status: string(t.Status)}
	switch t.Status {
	case StatusProcessing:
		if t.ProcessedAt != nil {
			msg.DateTime = t.ProcessedAt.Format(time.RFC3339)
		}
	case StatusDone, StatusFailed:
		if t.FinishedAt != nil {
			msg.DateTime = t.FinishedAt.Format(time.RFC3339)
		}
	}
	return msg
}

// EnterProcessing transitions the task to PROCESSING, stamping
// ProcessedAt. Valid exactly once per successful consume.
func (t Task) EnterProcessing(now time.Time) Task {
	t.Status = StatusProcessing
	t.ProcessedAt = &now
	return t
}

// EnterDone transitions the task to DONE, stamping FinishedAt.
func (t Task) EnterDone(now time.Time) Task {
	t.Status = StatusDone
	t.FinishedAt = &now
	return t
}

// EnterFailed transitions the task to FAILED, stamping FinishedAt.
func (t Task) EnterFailed(now time.Time) Task {
	t.Status = StatusFailed
	t.FinishedAt = &now
	return t
}
