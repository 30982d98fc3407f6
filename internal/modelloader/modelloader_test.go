package modelloader

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/docworker/ingestworker/internal/storage"
)

type countingParser struct {
	storage storage.Backend
	setN    int32
}

func (p *countingParser) SetStorage(b storage.Backend) {
	p.storage = b
	atomic.AddInt32(&p.setN, 1)
}
func (p *countingParser) Parse(context.Context, string, string, string) (string, error) {
	return "text", nil
}

type countingChunker struct{}

func (countingChunker) Chunk(context.Context, string) ([]string, error) { return nil, nil }

type countingEmbedder struct{}

func (countingEmbedder) GenerateEmbeddings(context.Context, []string) ([][]float32, error) {
	return nil, nil
}
func (countingEmbedder) Dimension() int { return 768 }

func TestLoader_ConcurrentFirstAccessConstructsOnce(t *testing.T) {
	var parserBuilds, sentenceBuilds, semanticBuilds, embedderBuilds int32

	loader := New(
		func(storage.Backend) Parser {
			atomic.AddInt32(&parserBuilds, 1)
			return &countingParser{}
		},
		func() Chunker {
			atomic.AddInt32(&sentenceBuilds, 1)
			return countingChunker{}
		},
		func() Chunker {
			atomic.AddInt32(&semanticBuilds, 1)
			return countingChunker{}
		},
		func() Embedder {
			atomic.AddInt32(&embedderBuilds, 1)
			return countingEmbedder{}
		},
	)

	backend := storage.NewLocalBackend(t.TempDir(), storage.Policy{})
	const k = 32
	var wg sync.WaitGroup
	wg.Add(k * 4)
	for i := 0; i < k; i++ {
		go func() { defer wg.Done(); loader.Parser(backend) }()
		go func() { defer wg.Done(); loader.Chunker("sentence") }()
		go func() { defer wg.Done(); loader.Chunker(ChunkStrategySemanticAPI) }()
		go func() { defer wg.Done(); loader.Embedder() }()
	}
	wg.Wait()

	if parserBuilds != 1 {
		t.Errorf("parser constructed %d times, want 1", parserBuilds)
	}
	if sentenceBuilds != 1 {
		t.Errorf("sentence chunker constructed %d times, want 1", sentenceBuilds)
	}
	if semanticBuilds != 1 {
		t.Errorf("semantic chunker constructed %d times, want 1", semanticBuilds)
	}
	if embedderBuilds != 1 {
		t.Errorf("embedder constructed %d times, want 1", embedderBuilds)
	}
}

func TestLoader_ParserRebindsStorageOnEveryAccess(t *testing.T) {
	var built *countingParser
	loader := New(
		func(storage.Backend) Parser {
			built = &countingParser{}
			return built
		},
		func() Chunker { return countingChunker{} },
		func() Chunker { return countingChunker{} },
		func() Embedder { return countingEmbedder{} },
	)

	b1 := storage.NewLocalBackend(t.TempDir(), storage.Policy{})
	b2 := storage.NewLocalBackend(t.TempDir(), storage.Policy{})

	loader.Parser(b1)
	loader.Parser(b2)

	if built.setN != 1 {
		t.Errorf("SetStorage called %d times across both accesses, want 1 (first access constructs, doesn't call SetStorage)", built.setN)
	}
	if built.storage != b2 {
		t.Error("parser storage was not rebound to the second backend")
	}
}

func TestLoader_ChunkerStrategySelection(t *testing.T) {
	loader := New(
		func(storage.Backend) Parser { return &countingParser{} },
		func() Chunker { return sentinelChunker{"sentence"} },
		func() Chunker { return sentinelChunker{"semantic"} },
		func() Embedder { return countingEmbedder{} },
	)

	if c := loader.Chunker(ChunkStrategySemanticAPI); c.(sentinelChunker).name != "semantic" {
		t.Error("strategy semantic_api did not select the semantic chunker")
	}
	if c := loader.Chunker("anything-else"); c.(sentinelChunker).name != "sentence" {
		t.Error("unrecognized strategy did not fall back to the sentence chunker")
	}
	if c := loader.Chunker(""); c.(sentinelChunker).name != "sentence" {
		t.Error("empty strategy did not fall back to the sentence chunker")
	}
}

type sentinelChunker struct{ name string }

func (sentinelChunker) Chunk(context.Context, string) ([]string, error) { return nil, nil }

func TestLoader_ClearCacheForcesReconstruction(t *testing.T) {
	var builds int32
	loader := New(
		func(storage.Backend) Parser { atomic.AddInt32(&builds, 1); return &countingParser{} },
		func() Chunker { return countingChunker{} },
		func() Chunker { return countingChunker{} },
		func() Embedder { return countingEmbedder{} },
	)
	backend := storage.NewLocalBackend(t.TempDir(), storage.Policy{})
	loader.Parser(backend)
	loader.Parser(backend)
	if builds != 1 {
		t.Fatalf("builds = %d before ClearCache, want 1", builds)
	}
	loader.ClearCache()
	loader.Parser(backend)
	if builds != 2 {
		t.Errorf("builds = %d after ClearCache, want 2", builds)
	}
}
