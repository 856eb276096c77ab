// Package errdefs holds the error kinds shared across the retrieval and chat
// pipeline. Callers match them with errors.Is.
package errdefs

import "errors"

var (
	// ErrValidation marks malformed documents, source links or metadata.
	// Never retried.
	ErrValidation = errors.New("validation failed")

	// ErrProvider marks a failed embedding or completion call.
	ErrProvider = errors.New("provider call failed")

	// ErrStorage marks a failed vector store operation.
	ErrStorage = errors.New("storage operation failed")

	// ErrNotFound marks a missing document or session on paths that require it.
	ErrNotFound = errors.New("not found")

	// ErrProcessing marks malformed raw results or a failed reconstruction.
	ErrProcessing = errors.New("result processing failed")

	// ErrUnsupportedFile marks an upload whose extension cannot be extracted.
	ErrUnsupportedFile = errors.New("unsupported file type")

	// Service level errors.

	ErrRetrieval = errors.New("retrieval service error")
	ErrChat      = errors.New("chat service error")
	ErrUpload    = errors.New("document upload error")
)
