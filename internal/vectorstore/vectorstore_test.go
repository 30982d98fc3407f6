package vectorstore

import (
	"errors"
	"testing"
)

func TestAlreadyExists(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{errors.New("collection already exists"), true},
		{errors.New("Collection Already Exist"), true},
		{errors.New("connection refused"), false},
		{errors.New("partition not found"), false},
	}
	for _, c := range cases {
		if got := alreadyExists(c.err); got != c.want {
			t.Errorf("alreadyExists(%q) = %v, want %v", c.err, got, c.want)
		}
	}
}

func TestSchemaForFields(t *testing.T) {
	schema := schemaFor("docs")
	names := make(map[string]bool)
	for _, f := range schema.Fields {
		names[f.Name] = true
	}
	for _, want := range []string{fieldID, fieldEmbedding, fieldChunk, fieldMetadata, fieldPage} {
		if !names[want] {
			t.Errorf("schemaFor missing field %q", want)
		}
	}
}

func TestRowCarriesEmbeddingAndPage(t *testing.T) {
	r := Row{Chunk: "some text", Page: 3, Embedding: make([]float32, EmbeddingDim)}
	if len(r.Embedding) != EmbeddingDim {
		t.Errorf("Row.Embedding len = %d, want %d", len(r.Embedding), EmbeddingDim)
	}
	if r.Page != 3 {
		t.Errorf("Row.Page = %d, want 3", r.Page)
	}
}
