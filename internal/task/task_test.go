package task

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestParseStatus(t *testing.T) {
	cases := []struct {
		in   string
		want Status
	}{
		{"PENDING", StatusPending},
		{"processing", StatusProcessing},
		{"Done", StatusDone},
		{"FAILED", StatusFailed},
		{"bogus", StatusPending},
		{"", StatusPending},
	}
	for _, c := range cases {
		if got := ParseStatus(c.in); got != c.want {
			t.Errorf("ParseStatus(%q) = %s, want %s", c.in, got, c.want)
		}
	}
}

func TestToStatusMessage_DateTimeFollowsStatus(t *testing.T) {
	processed := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	finished := time.Date(2024, 1, 1, 10, 5, 0, 0, time.UTC)
	id := uuid.New()

	base := Task{TaskID: id, ProcessedAt: &processed, FinishedAt: &finished}

	proc := base
	proc.Status = StatusProcessing
	if msg := proc.ToStatusMessage(); msg.DateTime != processed.Format(time.RFC3339) {
		t.Errorf("PROCESSING dateTime = %s, want processed_at", msg.DateTime)
	}

	done := base
	done.Status = StatusDone
	if msg := done.ToStatusMessage(); msg.DateTime != finished.Format(time.RFC3339) {
		t.Errorf("DONE dateTime = %s, want finished_at", msg.DateTime)
	}

	failed := base
	failed.Status = StatusFailed
	if msg := failed.ToStatusMessage(); msg.DateTime != finished.Format(time.RFC3339) {
		t.Errorf("FAILED dateTime = %s, want finished_at", msg.DateTime)
	}

	pending := base
	pending.Status = StatusPending
	if msg := pending.ToStatusMessage(); msg.DateTime != "" {
		t.Errorf("PENDING dateTime = %s, want empty", msg.DateTime)
	}

	if msg := proc.ToStatusMessage(); msg.TaskID != id.String() {
		t.Errorf("taskId = %s, want %s", msg.TaskID, id)
	}
}

func TestTransitions_TimestampsAreMonotonic(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tk := Task{TaskID: uuid.New(), Status: StatusPending, CreatedAt: created}

	t0 := created.Add(time.Minute)
	tk = tk.EnterProcessing(t0)
	if tk.Status != StatusProcessing {
		t.Fatalf("status = %s, want PROCESSING", tk.Status)
	}
	if tk.ProcessedAt == nil || !tk.ProcessedAt.Equal(t0) {
		t.Fatal("EnterProcessing must stamp ProcessedAt")
	}
	if tk.FinishedAt != nil {
		t.Fatal("FinishedAt must be unset until a terminal transition")
	}

	t1 := t0.Add(time.Minute)
	done := tk.EnterDone(t1)
	if done.Status != StatusDone || done.FinishedAt == nil || !done.FinishedAt.Equal(t1) {
		t.Error("EnterDone must set DONE and stamp FinishedAt")
	}
	failed := tk.EnterFailed(t1)
	if failed.Status != StatusFailed || failed.FinishedAt == nil {
		t.Error("EnterFailed must set FAILED and stamp FinishedAt")
	}

	if done.CreatedAt.After(*done.ProcessedAt) || done.ProcessedAt.After(*done.FinishedAt) {
		t.Error("created_at <= processed_at <= finished_at must hold")
	}
}

func TestToMetadata(t *testing.T) {
	pub := time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC)
	d := Document{
		Title:           "Doc A",
		Authors:         []Author{{Name: "Ada", Institution: "X"}},
		Keywords:        []Keyword{{Name: "retrieval"}},
		PublicationDate: &pub,
		Language:        "en",
	}
	m := d.ToMetadata()
	if m.Title != "Doc A" || len(m.Authors) != 1 || len(m.Keywords) != 1 {
		t.Errorf("metadata = %+v, want document fields carried over", m)
	}
	if m.PublicationDate == nil || *m.PublicationDate != pub.Format(time.RFC3339) {
		t.Error("publicationDate must be RFC3339-formatted")
	}

	m = Document{Title: "No Lang"}.ToMetadata()
	if m.Language != "unknown" {
		t.Errorf("language = %q, want unknown when unset", m.Language)
	}
	if m.PublicationDate != nil {
		t.Error("publicationDate must stay nil when unset")
	}
}
