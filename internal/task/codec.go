package task

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// wireTask mirrors the on-wire envelope, which in practice arrives in
// camelCase from newer producers but still carries snake_case aliases
// from older ones (task_id, doc_type, created_at, ...). Both are
// accepted; camelCase wins when both are present.
type wireTask struct {
	TaskID        string          `json:"taskId"`
	TaskIDAlt     string          `json:"task_id"`
	Status        string          `json:"status"`
	Document      json.RawMessage `json:"document"`
	TaskType      string          `json:"taskType"`
	TaskTypeAlt   string          `json:"task_type"`
	Collection    string          `json:"destinationCollection"`
	CollectionAlt string          `json:"destination_collection"`
	Partition     string          `json:"destinationPartition"`
	PartitionAlt  string          `json:"destination_partition"`
	CreatedAt     *time.Time      `json:"createdAt"`
	CreatedAlt    *time.Time      `json:"created_at"`
	ProcessedAt   *time.Time      `json:"processedAt"`
	ProcessedAlt  *time.Time      `json:"processed_at"`
	FinishedAt    *time.Time      `json:"finishedAt"`
	FinishedAlt   *time.Time      `json:"finished_at"`
}

type wireDocument struct {
	Title           string     `json:"title"`
	Authors         []Author   `json:"authors"`
	Keywords        []Keyword  `json:"keywords"`
	FileName        string     `json:"fileName"`
	FileNameAlt     string     `json:"file_name"`
	DocType         string     `json:"docType"`
	DocTypeAlt      string     `json:"doc_type"`
	PublicationDate *time.Time `json:"publicationDate"`
	PublicationAlt  *time.Time `json:"publication_date"`
	Language        string     `json:"language"`
	Bucket          string     `json:"bucket"`
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func firstNonNilTime(a, b *time.Time) *time.Time {
	if a != nil {
		return a
	}
	return b
}

// UnmarshalJSON decodes a Task envelope accepting either camelCase or
// snake_case keys for every aliased field.
func (t *Task) UnmarshalJSON(data []byte) error {
	var w wireTask
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("task envelope: %w", err)
	}

	idStr := firstNonEmpty(w.TaskID, w.TaskIDAlt)
	if idStr == "" {
		return fmt.Errorf("task envelope: missing taskId")
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return fmt.Errorf("task envelope: invalid taskId %q: %w", idStr, err)
	}

	var doc Document
	if len(w.Document) > 0 {
		var wd wireDocument
		if err := json.Unmarshal(w.Document, &wd); err != nil {
			return fmt.Errorf("task envelope: document: %w", err)
		}
		doc = Document{
			Title:           wd.Title,
			Authors:         wd.Authors,
			Keywords:        wd.Keywords,
			FileName:        firstNonEmpty(wd.FileName, wd.FileNameAlt),
			DocType:         firstNonEmpty(wd.DocType, wd.DocTypeAlt),
			PublicationDate: firstNonNilTime(wd.PublicationDate, wd.PublicationAlt),
			Language:        wd.Language,
			Bucket:          wd.Bucket,
		}
	}
	if doc.FileName == "" {
		return fmt.Errorf("task envelope: document missing fileName")
	}

	createdAt := firstNonNilTime(w.CreatedAt, w.CreatedAlt)
	t.TaskID = id
	t.Status = ParseStatus(w.Status)
	t.Document = doc
	t.TaskType = firstNonEmpty(w.TaskType, w.TaskTypeAlt)
	t.Collection = firstNonEmpty(w.Collection, w.CollectionAlt)
	t.Partition = firstNonEmpty(w.Partition, w.PartitionAlt)
	if createdAt != nil {
		t.CreatedAt = *createdAt
	}
	t.ProcessedAt = firstNonNilTime(w.ProcessedAt, w.ProcessedAlt)
	t.FinishedAt = firstNonNilTime(w.FinishedAt, w.FinishedAlt)
	return nil
}

// MarshalJSON always emits camelCase keys.
func (t Task) MarshalJSON() ([]byte, error) {
	type alias struct {
		TaskID      string     `json:"taskId"`
		Status      Status     `json:"status"`
		Document    Document   `json:"document"`
		TaskType    string     `json:"taskType,omitempty"`
		Collection  string     `json:"destinationCollection,omitempty"`
		Partition   string     `json:"destinationPartition,omitempty"`
		CreatedAt   time.Time  `json:"createdAt"`
		ProcessedAt *time.Time `json:"processedAt,omitempty"`
		FinishedAt  *time.Time `json:"finishedAt,omitempty"`
	}
	return json.Marshal(alias{
		TaskID:      t.TaskID.String(),
		Status:      t.Status,
		Document:    t.Document,
		TaskType:    t.TaskType,
		Collection:  t.Collection,
		Partition:   t.Partition,
		CreatedAt:   t.CreatedAt,
		ProcessedAt: t.ProcessedAt,
		FinishedAt:  t.FinishedAt,
	})
}
