// Package statuserr tags failures with a Kind and the stage that
// produced them, so callers can classify an error with KindOf without
// string-matching error text.
package statuserr

import (
	"errors"
	"fmt"
)

// Kind identifies the broad category of a failure.
type Kind int

const (
	// KindUnknown is the zero value; treated as a generic failure.
	KindUnknown Kind = iota
	// KindMalformedEnvelope means the delivery body did not decode into a task.
	KindMalformedEnvelope
	// KindStorageUnavailable means the object storage backend could not be reached.
	KindStorageUnavailable
	// KindNotFound means a referenced object or collection does not exist.
	KindNotFound
	// KindParseEmpty means the document parsed to zero extractable text.
	KindParseEmpty
	// KindChunkerError means the chunking stage failed.
	KindChunkerError
	// KindEmbedderError means the embedding stage failed.
	KindEmbedderError
	// KindVectorStoreError means the vector store rejected the write or query.
	KindVectorStoreError
	// KindBrokerError means the broker connection or channel failed.
	KindBrokerError
)

func (k Kind) String() string {
	switch k {
	case KindMalformedEnvelope:
		return "malformed_envelope"
	case KindStorageUnavailable:
		return "storage_unavailable"
	case KindNotFound:
		return "not_found"
	case KindParseEmpty:
		return "parse_empty"
	case KindChunkerError:
		return "chunker_error"
	case KindEmbedderError:
		return "embedder_error"
	case KindVectorStoreError:
		return "vector_store_error"
	case KindBrokerError:
		return "broker_error"
	default:
		return "unknown"
	}
}

// Error pairs a Kind with the name of the stage that failed and the
// underlying error, which Unwrap exposes.
type Error struct {
	Kind    Kind
	Stage   string
	Wrapped error
}

func (e *Error) Error() string {
	if e.Wrapped == nil {
		return fmt.Sprintf("%s: %s", e.Stage, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Kind, e.Wrapped)
}

func (e *Error) Unwrap() error { return e.Wrapped }

// New wraps err with a Kind and the stage name that produced it.
func New(kind Kind, stage string, err error) *Error {
	return &Error{Kind: kind, Stage: stage, Wrapped: err}
}

// KindOf extracts the Kind from err, walking the Unwrap chain.
// Returns KindUnknown if err does not carry a statuserr.Error.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnknown
}
