// Package vectorstore is the sole owner of the Milvus connection used to
// persist and search pipeline output rows (id, embedding, chunk,
// metadata, page) behind an ensure/insert/search surface.
package vectorstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github.com/docworker/ingestworker/pkg/resilience"
)

const (
	// EmbeddingDim is the embedder's declared vector dimension.
	EmbeddingDim = 768
	// MaxChunkBytes bounds the chunk text field.
	MaxChunkBytes = 6144
	// HNSWNlist is passed as the HNSW index's M parameter (maximum links
	// per node); efConstruction is fixed at 64.
	HNSWNlist = 128

	fieldID        = "id"
	fieldEmbedding = "embedding"
	fieldChunk     = "chunk"
	fieldMetadata  = "metadata"
	fieldPage      = "page"
)

// Row is a single chunk/vector pair ready for insert: markers already
// stripped from Chunk and Page already extracted by the pipeline's
// ExtractPage helper.
type Row struct {
	Embedding []float32
	Chunk     string
	Metadata  []byte // JSON document metadata
	Page      int64
}

// Hit is a single similarity search result.
type Hit struct {
	ID       int64
	Chunk    string
	Metadata []byte
	Page     int64
	Score    float32
}

// Store owns the single gRPC connection to Milvus.
type Store struct {
	cli               client.Client
	defaultCollection string
	defaultPartition  string
	breaker           *resilience.Breaker
	limiter           *resilience.Limiter
}

// Option configures a Store at construction.
type Option func(*Store)

// WithBreaker wraps every Milvus call through a circuit breaker.
func WithBreaker(b *resilience.Breaker) Option {
	return func(s *Store) { s.breaker = b }
}

// WithLimiter throttles every Milvus call through a token-bucket limiter,
// waiting for a token rather than failing fast.
func WithLimiter(l *resilience.Limiter) Option {
	return func(s *Store) { s.limiter = l }
}

// New dials Milvus at address (host:port) and optionally authenticates
// with user:password.
func New(ctx context.Context, address, user, password, db, defaultCollection, defaultPartition string, opts ...Option) (*Store, error) {
	cfg := client.Config{Address: address, DBName: db}
	if user != "" {
		cfg.Username = user
		cfg.Password = password
	}
	cli, err := client.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: dial milvus %s: %w", address, err)
	}
	s := &Store{cli: cli, defaultCollection: defaultCollection, defaultPartition: defaultPartition}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the underlying Milvus connection.
func (s *Store) Close() error { return s.cli.Close() }

func (s *Store) call(ctx context.Context, f func(context.Context) error) error {
	do := f
	if s.limiter != nil {
		inner := do
		do = func(ctx context.Context) error { return s.limiter.CallWait(ctx, inner) }
	}
	if s.breaker != nil {
		inner := do
		do = func(ctx context.Context) error { return s.breaker.Call(ctx, inner) }
	}
	return do(ctx)
}

func schemaFor(collection string) *entity.Schema {
	return entity.NewSchema().
		WithName(collection).
		WithDescription("docworker chunk/vector rows").
		WithField(entity.NewField().WithName(fieldID).WithDataType(entity.FieldTypeInt64).WithIsPrimaryKey(true).WithIsAutoID(true)).
		WithField(entity.NewField().WithName(fieldEmbedding).WithDataType(entity.FieldTypeFloatVector).WithDim(EmbeddingDim)).
		WithField(entity.NewField().WithName(fieldChunk).WithDataType(entity.FieldTypeVarChar).WithMaxLength(MaxChunkBytes)).
		WithField(entity.NewField().WithName(fieldMetadata).WithDataType(entity.FieldTypeJSON)).
		WithField(entity.NewField().WithName(fieldPage).WithDataType(entity.FieldTypeInt64))
}

// EnsureCollection creates collection with the schema above if it doesn't
// already exist, and builds the HNSW/COSINE index. An "already exists"
// error from a lost creation race is downgraded to success.
func (s *Store) EnsureCollection(ctx context.Context, collection string) error {
	if collection == "" {
		collection = s.defaultCollection
	}
	return s.call(ctx, func(ctx context.Context) error {
		has, err := s.cli.HasCollection(ctx, collection)
		if err != nil {
			return fmt.Errorf("vectorstore: has collection %s: %w", collection, err)
		}
		if has {
			return nil
		}

		if err := s.cli.CreateCollection(ctx, schemaFor(collection), 2); err != nil {
			if !alreadyExists(err) {
				return fmt.Errorf("vectorstore: create collection %s: %w", collection, err)
			}
		}

		idx, err := entity.NewIndexHNSW(entity.COSINE, HNSWNlist, 64)
		if err != nil {
			return fmt.Errorf("vectorstore: build hnsw index params: %w", err)
		}
		if err := s.cli.CreateIndex(ctx, collection, fieldEmbedding, idx, false); err != nil {
			if !alreadyExists(err) {
				return fmt.Errorf("vectorstore: create index on %s: %w", collection, err)
			}
		}
		if err := s.cli.LoadCollection(ctx, collection, false); err != nil {
			return fmt.Errorf("vectorstore: load collection %s: %w", collection, err)
		}
		return nil
	})
}

// EnsurePartition creates partition within collection if it doesn't
// already exist.
func (s *Store) EnsurePartition(ctx context.Context, collection, partition string) error {
	if collection == "" {
		collection = s.defaultCollection
	}
	if partition == "" {
		partition = s.defaultPartition
	}
	return s.call(ctx, func(ctx context.Context) error {
		has, err := s.cli.HasPartition(ctx, collection, partition)
		if err != nil {
			return fmt.Errorf("vectorstore: has partition %s/%s: %w", collection, partition, err)
		}
		if has {
			return nil
		}
		if err := s.cli.CreatePartition(ctx, collection, partition); err != nil {
			if !alreadyExists(err) {
				return fmt.Errorf("vectorstore: create partition %s/%s: %w", collection, partition, err)
			}
		}
		return nil
	})
}

// Insert writes rows into collection/partition.
func (s *Store) Insert(ctx context.Context, rows []Row, collection, partition string) error {
	if len(rows) == 0 {
		return nil
	}
	if collection == "" {
		collection = s.defaultCollection
	}
	if partition == "" {
		partition = s.defaultPartition
	}

	embeddings := make([][]float32, len(rows))
	chunks := make([]string, len(rows))
	metadatas := make([][]byte, len(rows))
	pages := make([]int64, len(rows))
	for i, r := range rows {
		embeddings[i] = r.Embedding
		chunks[i] = r.Chunk
		metadatas[i] = r.Metadata
		pages[i] = r.Page
	}

	return s.call(ctx, func(ctx context.Context) error {
		_, err := s.cli.Insert(ctx, collection, partition,
			entity.NewColumnFloatVector(fieldEmbedding, EmbeddingDim, embeddings),
			entity.NewColumnVarChar(fieldChunk, chunks),
			entity.NewColumnJSONBytes(fieldMetadata, metadatas),
			entity.NewColumnInt64(fieldPage, pages),
		)
		if err != nil {
			return fmt.Errorf("vectorstore: insert %d rows into %s/%s: %w", len(rows), collection, partition, err)
		}
		return nil
	})
}

// Search performs a COSINE k-NN search over collection/partition.
func (s *Store) Search(ctx context.Context, queryVector []float32, topK int, collection, partition string) ([]Hit, error) {
	if collection == "" {
		collection = s.defaultCollection
	}
	if partition == "" {
		partition = s.defaultPartition
	}

	var hits []Hit
	err := s.call(ctx, func(ctx context.Context) error {
		sp, err := entity.NewIndexHNSWSearchParam(64)
		if err != nil {
			return fmt.Errorf("vectorstore: build search params: %w", err)
		}
		results, err := s.cli.Search(ctx, collection, []string{partition}, "",
			[]string{fieldChunk, fieldMetadata, fieldPage},
			[]entity.Vector{entity.FloatVector(queryVector)},
			fieldEmbedding, entity.COSINE, topK, sp)
		if err != nil {
			return fmt.Errorf("vectorstore: search %s/%s: %w", collection, partition, err)
		}
		hits = flattenResults(results)
		return nil
	})
	return hits, err
}

func flattenResults(results []client.SearchResult) []Hit {
	var hits []Hit
	for _, r := range results {
		var chunkCol *entity.ColumnVarChar
		var metaCol *entity.ColumnJSONBytes
		var pageCol *entity.ColumnInt64
		for _, f := range r.Fields {
			switch c := f.(type) {
			case *entity.ColumnVarChar:
				if c.Name() == fieldChunk {
					chunkCol = c
				}
			case *entity.ColumnJSONBytes:
				if c.Name() == fieldMetadata {
					metaCol = c
				}
			case *entity.ColumnInt64:
				if c.Name() == fieldPage {
					pageCol = c
				}
			}
		}
		ids, _ := r.IDs.(*entity.ColumnInt64)
		for i := 0; i < r.ResultCount; i++ {
			h := Hit{Score: r.Scores[i]}
			if ids != nil {
				h.ID = ids.Data()[i]
			}
			if chunkCol != nil {
				h.Chunk = chunkCol.Data()[i]
			}
			if metaCol != nil {
				h.Metadata = metaCol.Data()[i]
			}
			if pageCol != nil {
				h.Page = pageCol.Data()[i]
			}
			hits = append(hits, h)
		}
	}
	return hits
}

func alreadyExists(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "already exist")
}
