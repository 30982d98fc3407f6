package pipeline

import (
	"context"
	"testing"

	"github.com/docworker/ingestworker/internal/modelloader"
	"github.com/docworker/ingestworker/internal/storage"
	"github.com/docworker/ingestworker/internal/task"
)

type stubPipeline struct{ name string }

func (stubPipeline) Process(context.Context, task.Document) ([]string, [][]float32, error) {
	return nil, nil, nil
}
func (stubPipeline) StoreEmbedding(context.Context, []string, [][]float32, task.Document, string, string) error {
	return nil
}

func constructorFor(name string) Constructor {
	return func(*modelloader.Loader, storage.Backend, string) Pipeline {
		return stubPipeline{name: name}
	}
}

func TestRegistry_FallsBackToDefault(t *testing.T) {
	r := NewRegistry()
	r.Register(DefaultTaskType, constructorFor("default"))
	r.Register("custom", constructorFor("custom"))

	got := r.Get("custom")(nil, nil, "")
	if got.(stubPipeline).name != "custom" {
		t.Fatal("registered task type did not resolve to its own constructor")
	}

	got = r.Get("unregistered-type")(nil, nil, "")
	if got.(stubPipeline).name != "default" {
		t.Error("unregistered task type did not fall back to default")
	}

	got = r.Get("")(nil, nil, "")
	if got.(stubPipeline).name != "default" {
		t.Error("empty task type did not fall back to default")
	}
}

func TestRegistry_OverwritesExistingBinding(t *testing.T) {
	r := NewRegistry()
	r.Register("x", constructorFor("first"))
	r.Register("x", constructorFor("second"))

	got := r.Get("x")(nil, nil, "")
	if got.(stubPipeline).name != "second" {
		t.Error("re-registering a task type did not overwrite the previous constructor")
	}
}
