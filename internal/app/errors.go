package app

import (
	"errors"
	"fmt"
	"strings"

	"chatpdf/internal/budget"
)

var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrNoFiles       = errors.New("no files received")
	ErrNoDocuments   = errors.New("no documents indexed for this session")
	ErrEmptyResult   = errors.New("no relevant passages found")
	ErrEmptyQuestion = errors.New("question is empty")
	ErrNoSession     = errors.New("session id is required")
)

type FailureKind string

const (
	FailUnsupported FailureKind = "unsupported_type"
	FailUpload      FailureKind = "upload_error"
	FailSizeLimit   FailureKind = "size_limit"
	FailExtraction  FailureKind = "extraction_error"
	FailEmpty       FailureKind = "empty_result"
	FailTokenLimit  FailureKind = "token_limit"
	FailBudget      FailureKind = "budget_rejected"
	FailDuplicate   FailureKind = "duplicate"
	FailNotReceived FailureKind = "not_received"
)

// FileError reports why one file of a batch was not indexed.
type FileError struct {
	Name    string          `json:"filename"`
	Stage   string          `json:"stage"`
	Kind    FailureKind     `json:"kind"`
	Reason  string          `json:"reason"`
	Details *budget.Details `json:"details,omitempty"`
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Name, e.Reason, e.Kind)
}

// BatchError rejects a whole upload: in strict mode because any file failed,
// otherwise because none could be indexed. Nothing was indexed either way.
type BatchError struct {
	Strict bool
	Failed []*FileError
}

func (e *BatchError) Error() string {
	names := make([]string, len(e.Failed))
	for i, f := range e.Failed {
		names[i] = f.Name
	}
	if e.Strict {
		return fmt.Sprintf("upload rejected in strict mode, %d file(s) failed: %s", len(e.Failed), strings.Join(names, ", "))
	}
	return fmt.Sprintf("no file could be indexed: %s", strings.Join(names, ", "))
}
