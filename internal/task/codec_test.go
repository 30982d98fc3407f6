package task

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestRoundTrip(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	processed := created.Add(time.Minute)
	pub := time.Date(2019, 3, 15, 0, 0, 0, 0, time.UTC)

	orig := Task{
		TaskID: uuid.MustParse("11111111-1111-1111-1111-111111111111"),
		Status: StatusProcessing,
		Document: Document{
			Title:           "Doc A",
			Authors:         []Author{{Name: "Ada", Institution: "X"}, {Name: "Grace", Institution: "Y"}},
			Keywords:        []Keyword{{Name: "search"}},
			FileName:        "papers/a.pdf",
			DocType:         "paper",
			Bucket:          "custom-bucket",
			PublicationDate: &pub,
			Language:        "en",
		},
		TaskType:    "default",
		Collection:  "docs",
		Partition:   "p1",
		CreatedAt:   created,
		ProcessedAt: &processed,
	}

	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got Task
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !reflect.DeepEqual(orig, got) {
		t.Errorf("round trip mismatch:\n  orig %+v\n  got  %+v", orig, got)
	}
}

func TestUnmarshal_CamelAndSnakeCaseAreEquivalent(t *testing.T) {
	camel := []byte(`{
		"taskId": "11111111-1111-1111-1111-111111111111",
		"status": "PENDING",
		"document": {"title": "Doc A", "authors": [], "keywords": [],
			"fileName": "a.pdf", "docType": "paper"},
		"createdAt": "2024-01-01T00:00:00Z",
		"taskType": "default",
		"destinationCollection": "docs"
	}`)
	snake := []byte(`{
		"task_id": "11111111-1111-1111-1111-111111111111",
		"status": "PENDING",
		"document": {"title": "Doc A", "authors": [], "keywords": [],
			"file_name": "a.pdf", "doc_type": "paper"},
		"created_at": "2024-01-01T00:00:00Z",
		"task_type": "default",
		"destination_collection": "docs"
	}`)

	var fromCamel, fromSnake Task
	if err := json.Unmarshal(camel, &fromCamel); err != nil {
		t.Fatalf("camelCase unmarshal: %v", err)
	}
	if err := json.Unmarshal(snake, &fromSnake); err != nil {
		t.Fatalf("snake_case unmarshal: %v", err)
	}
	if !reflect.DeepEqual(fromCamel, fromSnake) {
		t.Errorf("ingest forms diverge:\n  camel %+v\n  snake %+v", fromCamel, fromSnake)
	}
	if fromCamel.Document.FileName != "a.pdf" || fromCamel.Document.DocType != "paper" {
		t.Errorf("document = %+v", fromCamel.Document)
	}
	if fromCamel.Collection != "docs" {
		t.Errorf("collection = %q, want docs", fromCamel.Collection)
	}
}

func TestUnmarshal_MalformedEnvelopes(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"not json", `{"not":"a task"}not-json`},
		{"missing taskId", `{"status":"PENDING","document":{"fileName":"a.pdf"}}`},
		{"invalid uuid", `{"taskId":"nope","document":{"fileName":"a.pdf"}}`},
		{"missing fileName", `{"taskId":"11111111-1111-1111-1111-111111111111","document":{"title":"x"}}`},
		{"no document", `{"taskId":"11111111-1111-1111-1111-111111111111"}`},
	}
	for _, c := range cases {
		var tk Task
		if err := json.Unmarshal([]byte(c.body), &tk); err == nil {
			t.Errorf("%s: expected an error", c.name)
		}
	}
}

func TestMarshal_EmitsCamelCase(t *testing.T) {
	tk := Task{
		TaskID:    uuid.New(),
		Status:    StatusPending,
		Document:  Document{FileName: "a.pdf", DocType: "paper"},
		TaskType:  "default",
		CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	data, err := json.Marshal(tk)
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"taskId", "status", "document", "createdAt", "taskType"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("output missing camelCase key %q: %s", key, data)
		}
	}
	for _, key := range []string{"task_id", "created_at", "task_type"} {
		if _, ok := raw[key]; ok {
			t.Errorf("output must not carry snake_case key %q", key)
		}
	}
}

func TestStatusMessage_WireShape(t *testing.T) {
	finished := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	tk := Task{TaskID: uuid.MustParse("11111111-1111-1111-1111-111111111111"), Status: StatusDone, FinishedAt: &finished}

	data, err := json.Marshal(tk.ToStatusMessage())
	if err != nil {
		t.Fatal(err)
	}
	want := `{"taskId":"11111111-1111-1111-1111-111111111111","status":"DONE","dateTime":"2024-01-01T12:00:00Z"}`
	if string(data) != want {
		t.Errorf("status message = %s, want %s", data, want)
	}
}
