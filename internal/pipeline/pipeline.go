// Package pipeline defines the plug-in contract the worker pool dispatches
// through (construct per task type, run process then store the embeddings)
// and the default PDF implementation behind the taskType-keyed registry.
package pipeline

import (
	"context"
	"sync"

	"github.com/docworker/ingestworker/internal/modelloader"
	"github.com/docworker/ingestworker/internal/storage"
	"github.com/docworker/ingestworker/internal/task"
)

// DefaultTaskType is the fallback key used when a task's taskType is
// absent or unregistered. NewRegistry does not pre-register it; callers
// register a constructor under it at startup.
const DefaultTaskType = "default"

// Pipeline is the capability a worker invokes per task: turn a document
// into an ordered (chunks, embeddings) pair, then persist that pair.
type Pipeline interface {
	// Process returns chunks and embeddings of equal length; an empty
	// document yields an empty, non-error result.
	Process(ctx context.Context, doc task.Document) (chunks []string, embeddings [][]float32, err error)
	// StoreEmbedding writes chunks/embeddings to the vector store,
	// deriving row metadata from doc and resolving collection/partition
	// defaults when the arguments are empty.
	StoreEmbedding(ctx context.Context, chunks []string, embeddings [][]float32, doc task.Document, collection, partition string) error
}

// Constructor builds a Pipeline bound to the shared model loader, storage
// backend, and destination collection.
type Constructor func(loader *modelloader.Loader, backend storage.Backend, destinationCollection string) Pipeline

// Registry maps taskType to a Constructor. It is built once at startup;
// registration after the worker pool starts is best-effort and not
// coordinated across instances.
type Registry struct {
	mu           sync.Mutex
	constructors map[string]Constructor
}

// NewRegistry creates a Registry with no pipelines registered yet. Callers
// must Register a "default" constructor before Get is useful, though Get
// never panics in its absence — it simply returns nil.
func NewRegistry() *Registry {
	return &Registry{constructors: make(map[string]Constructor)}
}

// Register binds taskType to ctor, overwriting any previous binding.
func (r *Registry) Register(taskType string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[taskType] = ctor
}

// Get resolves taskType to its Constructor, falling back to the
// DefaultTaskType constructor when taskType is empty or unregistered.
func (r *Registry) Get(taskType string) Constructor {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ctor, ok := r.constructors[taskType]; ok {
		return ctor
	}
	return r.constructors[DefaultTaskType]
}
