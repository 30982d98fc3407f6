package modelloader

import (
	"context"
	"regexp"
	"strings"
)

// DefaultMaxChunkBytes is the default packing limit, set below the
// vector store's 6144-byte field limit. A single sentence longer than
// the limit still becomes one chunk of its own, so it is not a hard bound.
const DefaultMaxChunkBytes = 4096

var sentenceBoundary = regexp.MustCompile(`(?s)(.*?[.!?])\s+`)

// SentenceChunker is the cheap chunking strategy: split on sentence
// boundaries, then greedily pack sentences into chunks of at most
// MaxBytes; a sentence longer than MaxBytes is emitted as one oversized
// chunk of its own. It never discards marker text (`[PAGE][n][PAGE]`,
// `[/kind][id][/kind]`) — markers may land split across chunk
// boundaries but every byte of the input survives somewhere in the
// output.
type SentenceChunker struct {
	MaxBytes int
}

// NewSentenceChunker creates a SentenceChunker with DefaultMaxChunkBytes.
func NewSentenceChunker() *SentenceChunker {
	return &SentenceChunker{MaxBytes: DefaultMaxChunkBytes}
}

// Chunk implements Chunker.
func (c *SentenceChunker) Chunk(_ context.Context, text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	maxBytes := c.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxChunkBytes
	}

	sentences := splitSentences(text)
	var chunks []string
	var buf strings.Builder
	for _, s := range sentences {
		if buf.Len() > 0 && buf.Len()+len(s) > maxBytes {
			chunks = append(chunks, buf.String())
			buf.Reset()
		}
		buf.WriteString(s)
	}
	if buf.Len() > 0 {
		chunks = append(chunks, buf.String())
	}
	return chunks, nil
}

// splitSentences breaks text after '.', '!', or '?' followed by
// whitespace, preserving every byte (the trailing separator included
// in the sentence before it, the remainder carried in the final piece).
func splitSentences(text string) []string {
	var out []string
	rest := text
	for {
		loc := sentenceBoundary.FindStringSubmatchIndex(rest)
		if loc == nil {
			if rest != "" {
				out = append(out, rest)
			}
			break
		}
		out = append(out, rest[:loc[1]])
		rest = rest[loc[1]:]
	}
	return out
}

// SemanticChunker is the LLM-driven chunking strategy (selected by
// strategy "semantic_api"). It asks a chat-completion-style API to
// propose chunk boundaries on semantic/topic shifts; on any error from
// the API it falls back to SentenceChunker rather than failing the
// task outright, since chunk quality (not chunk existence) is what the
// API adds.
type SemanticChunker struct {
	API      ChatCompleter
	Fallback Chunker
}

// ChatCompleter is the minimal LLM capability the semantic chunker
// needs: a single-turn completion call.
type ChatCompleter interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// NewSemanticChunker creates a SemanticChunker backed by api, falling
// back to a SentenceChunker when api is nil or errors.
func NewSemanticChunker(api ChatCompleter) *SemanticChunker {
	return &SemanticChunker{API: api, Fallback: NewSentenceChunker()}
}

const semanticChunkPrompt = "Split the following document into coherent chunks for retrieval. " +
	"Return each chunk separated by a line containing only '---'. " +
	"Preserve all marker tokens such as [PAGE][n][PAGE] and [/kind][id][/kind] verbatim.\n\n"

// Chunk implements Chunker.
func (c *SemanticChunker) Chunk(ctx context.Context, text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	if c.API == nil {
		return c.Fallback.Chunk(ctx, text)
	}
	resp, err := c.API.Complete(ctx, semanticChunkPrompt+text)
	if err != nil {
		return c.Fallback.Chunk(ctx, text)
	}
	parts := strings.Split(resp, "\n---\n")
	var chunks []string
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			continue
		}
		chunks = append(chunks, p)
	}
	if len(chunks) == 0 {
		return c.Fallback.Chunk(ctx, text)
	}
	return chunks, nil
}
