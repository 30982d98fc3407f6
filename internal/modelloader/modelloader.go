// Package modelloader provides per-process singletons of the parser,
// chunker variants, and embedder the pipeline depends on. Construction
// is lazy and serialised with a mutex, following the guarded-state idiom
// pkg/resilience uses for its Breaker/Limiter — no dynamic field mutation
// across goroutines, only a guarded accessor.
package modelloader

import (
	"context"
	"sync"

	"github.com/docworker/ingestworker/internal/storage"
)

// ChunkStrategySemanticAPI selects the LLM-driven chunker; any other
// value (including empty) selects the cheap sentence chunker.
const ChunkStrategySemanticAPI = "semantic_api"

// Parser turns a downloaded PDF into page-marked text, uploading
// extracted artifacts to storage as a side effect. The extraction
// algorithm itself is a black box behind this boundary.
type Parser interface {
	// SetStorage rebinds the storage backend the parser uploads
	// artifacts to. Only called under the loader's lock.
	SetStorage(storage.Backend)
	// Parse extracts text from localPDFPath, uploading figures, tables,
	// formulas, content_index.json, and text.txt under stem+"/" as a
	// side effect, and returns the concatenated page-marked text.
	Parse(ctx context.Context, localPDFPath, tempDir, stem string) (string, error)
}

// Chunker splits parsed text into an ordered sequence of chunk strings.
type Chunker interface {
	Chunk(ctx context.Context, text string) ([]string, error)
}

// Embedder generates one embedding vector per chunk, in order.
type Embedder interface {
	GenerateEmbeddings(ctx context.Context, chunks []string) ([][]float32, error)
	// Dimension is the embedder's declared vector width.
	Dimension() int
}

// ParserFactory builds a Parser bound to the given storage backend.
type ParserFactory func(storage.Backend) Parser

// ChunkerFactory builds a Chunker.
type ChunkerFactory func() Chunker

// EmbedderFactory builds an Embedder.
type EmbedderFactory func() Embedder

// Loader lazily constructs and shares parser/chunker/embedder instances
// across workers. Construction is serialised via mu; once built, every
// instance must be safe for concurrent use by multiple workers.
type Loader struct {
	mu sync.Mutex

	newParser          ParserFactory
	newSentenceChunker ChunkerFactory
	newSemanticChunker ChunkerFactory
	newEmbedder        EmbedderFactory

	parser          Parser
	sentenceChunker Chunker
	semanticChunker Chunker
	embedder        Embedder
}

// New creates a Loader from the four factories. Factories are called at
// most once each, the first time their accessor is invoked.
func New(newParser ParserFactory, newSentenceChunker, newSemanticChunker ChunkerFactory, newEmbedder EmbedderFactory) *Loader {
	return &Loader{
		newParser:          newParser,
		newSentenceChunker: newSentenceChunker,
		newSemanticChunker: newSemanticChunker,
		newEmbedder:        newEmbedder,
	}
}

// Parser returns the shared parser, constructing it on first access and
// rebinding its storage reference to backend on every call thereafter.
func (l *Loader) Parser(backend storage.Backend) Parser {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.parser == nil {
		l.parser = l.newParser(backend)
	} else {
		l.parser.SetStorage(backend)
	}
	return l.parser
}

// Chunker returns the chunker matching strategy, constructing it lazily.
func (l *Loader) Chunker(strategy string) Chunker {
	l.mu.Lock()
	defer l.mu.Unlock()
	if strategy == ChunkStrategySemanticAPI {
		if l.semanticChunker == nil {
			l.semanticChunker = l.newSemanticChunker()
		}
		return l.semanticChunker
	}
	if l.sentenceChunker == nil {
		l.sentenceChunker = l.newSentenceChunker()
	}
	return l.sentenceChunker
}

// Embedder returns the shared embedder, constructing it lazily.
func (l *Loader) Embedder() Embedder {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.embedder == nil {
		l.embedder = l.newEmbedder()
	}
	return l.embedder
}

// PreloadAll eagerly constructs every accessor once, used at process
// startup so the first real task doesn't pay construction latency.
func (l *Loader) PreloadAll(backend storage.Backend) {
	l.Parser(backend)
	l.Chunker("sentence")
	l.Chunker(ChunkStrategySemanticAPI)
	l.Embedder()
}

// ClearCache disposes of all cached instances, used on shutdown.
func (l *Loader) ClearCache() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.parser = nil
	l.sentenceChunker = nil
	l.semanticChunker = nil
	l.embedder = nil
}
