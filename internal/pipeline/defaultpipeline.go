package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/docworker/ingestworker/internal/modelloader"
	"github.com/docworker/ingestworker/internal/statuserr"
	"github.com/docworker/ingestworker/internal/storage"
	"github.com/docworker/ingestworker/internal/task"
	"github.com/docworker/ingestworker/internal/vectorstore"
	"github.com/docworker/ingestworker/pkg/fn"
)

// pState threads one document's accumulated state through the
// cache-or-parse, chunk, and embed stages.
type pState struct {
	doc     task.Document
	tempDir string
	stem    string

	text       string
	chunks     []string
	embeddings [][]float32
}

// DefaultPipeline implements the default PDF ingestion pipeline: cache-skip
// probe, else download+parse, then chunk, then embed.
type DefaultPipeline struct {
	loader          *modelloader.Loader
	storage         storage.Backend
	vstore          *vectorstore.Store
	collection      string
	chunkerStrategy string
	logger          *slog.Logger
}

// NewDefaultPipelineFactory builds a pipeline.Constructor closing over the
// shared vector store, chunking strategy, and logger, for registration
// under pipeline.DefaultTaskType.
func NewDefaultPipelineFactory(vstore *vectorstore.Store, chunkerStrategy string, logger *slog.Logger) Constructor {
	return func(loader *modelloader.Loader, backend storage.Backend, destinationCollection string) Pipeline {
		if logger == nil {
			logger = slog.Default()
		}
		return &DefaultPipeline{
			loader:          loader,
			storage:         backend,
			vstore:          vstore,
			collection:      destinationCollection,
			chunkerStrategy: chunkerStrategy,
			logger:          logger,
		}
	}
}

// stemOf returns fileName minus its extension, preserving any directory
// component (fileName may itself contain "/").
func stemOf(fileName string) string {
	return strings.TrimSuffix(fileName, filepath.Ext(fileName))
}

// Process implements Pipeline.
func (p *DefaultPipeline) Process(ctx context.Context, doc task.Document) ([]string, [][]float32, error) {
	tempDir, err := os.MkdirTemp("", "docworker-")
	if err != nil {
		return nil, nil, statuserr.New(statuserr.KindStorageUnavailable, "tempdir", err)
	}
	defer os.RemoveAll(tempDir)

	parser := p.loader.Parser(p.storage)
	chunker := p.loader.Chunker(p.chunkerStrategy)
	embedder := p.loader.Embedder()

	run := fn.Pipeline(
		fn.TracedStage("cache_or_parse", p.cacheOrParseStage(parser)),
		fn.TracedStage("chunk", p.chunkStage(chunker)),
		fn.TracedStage("embed", p.embedStage(embedder)),
	)

	result := run(ctx, pState{doc: doc, tempDir: tempDir, stem: stemOf(doc.FileName)})
	final, err := result.Unwrap()
	if err != nil {
		return nil, nil, err
	}
	return final.chunks, final.embeddings, nil
}

func (p *DefaultPipeline) cacheOrParseStage(parser modelloader.Parser) fn.Stage[pState, pState] {
	return func(ctx context.Context, st pState) fn.Result[pState] {
		cacheKey := st.stem + "/text.txt"
		cached, err := p.storage.Exists(ctx, cacheKey, "")
		if err != nil {
			return fn.Err[pState](statuserr.New(statuserr.KindStorageUnavailable, "cache_probe", err))
		}
		if cached {
			p.logger.Info("reusing previously parsed text", "object", cacheKey)
			localText := filepath.Join(st.tempDir, "text.txt")
			if _, err := p.storage.Download(ctx, cacheKey, localText, ""); err != nil {
				return fn.Err[pState](statuserr.New(statuserr.KindStorageUnavailable, "cache_download", err))
			}
			data, err := os.ReadFile(localText)
			if err != nil {
				return fn.Err[pState](statuserr.New(statuserr.KindStorageUnavailable, "cache_read", err))
			}
			st.text = string(data)
			return fn.Ok(st)
		}

		localPDF := filepath.Join(st.tempDir, filepath.Base(st.doc.FileName))
		if _, err := p.storage.Download(ctx, st.doc.FileName, localPDF, st.doc.Bucket); err != nil {
			kind := statuserr.KindStorageUnavailable
			if errors.Is(err, storage.ErrNotFound) {
				kind = statuserr.KindNotFound
			}
			return fn.Err[pState](statuserr.New(kind, "download_source", err))
		}

		text, err := parser.Parse(ctx, localPDF, st.tempDir, st.stem)
		if err != nil {
			return fn.Err[pState](statuserr.New(statuserr.KindUnknown, "parse", err))
		}
		if strings.TrimSpace(text) == "" {
			return fn.Err[pState](statuserr.New(statuserr.KindParseEmpty, "parse", errors.New("parser produced no extractable text")))
		}
		st.text = text
		return fn.Ok(st)
	}
}

func (p *DefaultPipeline) chunkStage(chunker modelloader.Chunker) fn.Stage[pState, pState] {
	return func(ctx context.Context, st pState) fn.Result[pState] {
		chunks, err := chunker.Chunk(ctx, st.text)
		if err != nil {
			return fn.Err[pState](statuserr.New(statuserr.KindChunkerError, "chunk", err))
		}
		st.chunks = chunks
		return fn.Ok(st)
	}
}

func (p *DefaultPipeline) embedStage(embedder modelloader.Embedder) fn.Stage[pState, pState] {
	return func(ctx context.Context, st pState) fn.Result[pState] {
		if len(st.chunks) == 0 {
			return fn.Ok(st)
		}
		embeddings, err := embedder.GenerateEmbeddings(ctx, st.chunks)
		if err != nil {
			return fn.Err[pState](statuserr.New(statuserr.KindEmbedderError, "embed", err))
		}
		if len(embeddings) != len(st.chunks) {
			return fn.Err[pState](statuserr.New(statuserr.KindEmbedderError, "embed",
				fmt.Errorf("embedder returned %d vectors for %d chunks", len(embeddings), len(st.chunks))))
		}
		dim := embedder.Dimension()
		for i, v := range embeddings {
			if len(v) != dim {
				return fn.Err[pState](statuserr.New(statuserr.KindEmbedderError, "embed",
					fmt.Errorf("vector %d has dimension %d, embedder declares %d", i, len(v), dim)))
			}
		}
		st.embeddings = embeddings
		return fn.Ok(st)
	}
}

// StoreEmbedding implements Pipeline: strips page markers, derives row
// metadata from doc, and writes rows to the vector store.
func (p *DefaultPipeline) StoreEmbedding(ctx context.Context, chunks []string, embeddings [][]float32, doc task.Document, collection, partition string) error {
	if len(chunks) == 0 {
		return nil
	}
	if len(embeddings) != len(chunks) {
		return statuserr.New(statuserr.KindEmbedderError, "store_embedding",
			fmt.Errorf("%d embeddings for %d chunks", len(embeddings), len(chunks)))
	}
	if collection == "" {
		collection = p.collection
	}

	metadata, err := json.Marshal(doc.ToMetadata())
	if err != nil {
		return fmt.Errorf("pipeline: marshal metadata: %w", err)
	}

	rows := make([]vectorstore.Row, len(chunks))
	for i, c := range chunks {
		stripped, page := ExtractPage(c)
		rows[i] = vectorstore.Row{
			Embedding: embeddings[i],
			Chunk:     stripped,
			Metadata:  metadata,
			Page:      int64(page),
		}
	}

	if err := p.vstore.EnsureCollection(ctx, collection); err != nil {
		return statuserr.New(statuserr.KindVectorStoreError, "ensure_collection", err)
	}
	if err := p.vstore.EnsurePartition(ctx, collection, partition); err != nil {
		return statuserr.New(statuserr.KindVectorStoreError, "ensure_partition", err)
	}
	if err := p.vstore.Insert(ctx, rows, collection, partition); err != nil {
		return statuserr.New(statuserr.KindVectorStoreError, "insert", err)
	}
	return nil
}
