package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"chatpdf/internal/budget"
	"chatpdf/internal/embedding"
	"chatpdf/internal/model"
	"chatpdf/internal/pkg/extract"
	"chatpdf/internal/pkg/segment"
	"chatpdf/internal/storage"
	"chatpdf/internal/vectorindex"
)

const (
	defaultExtractWorkers = 4
	hardDocumentTokens    = 50000
)

// DocumentExtractor turns a stored file into page texts.
type DocumentExtractor interface {
	Supports(name string) bool
	Extract(path, name string) ([]extract.Page, error)
}

// Embedder produces unit vectors for chunk texts and questions.
type Embedder interface {
	Embed(ctx context.Context, texts []string) (*embedding.Result, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

type IngestOptions struct {
	MaxUploadBytes int64
	// HardDocumentTokens is checked before the cumulative budget.
	HardDocumentTokens int
	Segment            segment.Options
	Workers            int
}

type IngestService struct {
	store     *storage.SessionStore
	extractor DocumentExtractor
	counter   budget.Counter
	governor  *budget.Governor
	embedder  Embedder
	opts      IngestOptions
	logger    zerolog.Logger
}

func NewIngestService(
	store *storage.SessionStore,
	extractor DocumentExtractor,
	counter budget.Counter,
	governor *budget.Governor,
	embedder Embedder,
	opts IngestOptions,
	logger zerolog.Logger,
) *IngestService {
	if opts.HardDocumentTokens <= 0 {
		opts.HardDocumentTokens = hardDocumentTokens
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultExtractWorkers
	}
	if opts.Segment.ChunkSize <= 0 {
		opts.Segment = segment.DefaultOptions()
	}
	return &IngestService{
		store:     store,
		extractor: extractor,
		counter:   counter,
		governor:  governor,
		embedder:  embedder,
		opts:      opts,
		logger:    logger.With().Str("component", "ingest").Logger(),
	}
}

type UploadFile struct {
	Name   string
	Reader io.Reader
}

type IngestInput struct {
	SessionID string
	Files     []UploadFile
	Strict    bool
	// Manifest lists the names the client meant to send.
	Manifest []string
}

type ProcessedDocument struct {
	Name   string `json:"name"`
	Stored string `json:"stored_as,omitempty"`
	Chunks int    `json:"chunks"`
	Tokens int    `json:"tokens"`
	Pages  int    `json:"pages"`
}

type IngestResult struct {
	SessionID     string              `json:"session_id"`
	Processed     []ProcessedDocument `json:"processed"`
	Failed        []*FileError        `json:"failed"`
	ChunksAdded   int                 `json:"chunks_added"`
	TotalChunks   int                 `json:"total_chunks"`
	Replaced      bool                `json:"replaced"`
	SessionTokens int                 `json:"session_tokens"`
}

// candidate is one file on its way through the pipeline. err is set as soon
// as the file drops out.
type candidate struct {
	source string
	staged *storage.StagedFile
	chunks []model.Chunk
	meta   model.DocumentMeta
	err    *FileError
}

// IngestBatch runs one multi-file upload. Per-file problems are reported in
// the result; in strict mode any of them rejects the whole batch with a
// *BatchError and the index is left untouched.
func (s *IngestService) IngestBatch(ctx context.Context, input IngestInput) (*IngestResult, error) {
	if len(input.Files) == 0 {
		return nil, ErrNoFiles
	}
	sessionID := strings.TrimSpace(input.SessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if err := storage.ValidateSessionID(sessionID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	logger := s.logger.With().Str("session_id", sessionID).Logger()

	candidates := s.stage(sessionID, input.Files)
	defer func() {
		for _, c := range candidates {
			if c.staged != nil {
				s.store.DiscardStaged(c.staged).Log(logger)
			}
		}
	}()

	if err := s.extractAll(ctx, sessionID, candidates); err != nil {
		return nil, err
	}

	unlock := s.store.Lock(sessionID)
	defer unlock()

	idx, err := s.store.LoadIndex(sessionID)
	if err != nil {
		return nil, err
	}

	result := &IngestResult{SessionID: sessionID}

	existing := 0
	perSource := make(map[string]int)
	for _, ch := range idx.Chunks() {
		tokens := s.chunkTokens(ch)
		existing += tokens
		perSource[ch.Source] += tokens
	}

	// A replacement is checked without the version it replaces; that version
	// keeps counting until the replacement is admitted.
	var admitted []*candidate
	for _, c := range candidates {
		if c.err != nil {
			continue
		}
		old := perSource[c.source]
		if err := s.governor.Validate(c.meta.Tokens, existing-old); err != nil {
			c.err = budgetFailure(c.source, err)
			continue
		}
		existing += c.meta.Tokens - old
		perSource[c.source] = c.meta.Tokens
		admitted = append(admitted, c)
	}
	result.SessionTokens = existing

	for _, c := range candidates {
		if c.err != nil {
			result.Failed = append(result.Failed, c.err)
		}
	}
	result.Failed = append(result.Failed, notReceived(input.Manifest, candidates)...)

	if input.Strict && len(result.Failed) > 0 {
		return nil, &BatchError{Strict: true, Failed: result.Failed}
	}
	if len(admitted) == 0 {
		s.store.RemoveIfEmpty(s.store.IndexDir(sessionID)).Log(logger)
		return nil, &BatchError{Failed: result.Failed}
	}

	// Only admitted documents replace what the index holds.
	incoming := make(map[string]bool, len(admitted))
	var newChunks []model.Chunk
	for _, c := range admitted {
		incoming[c.source] = true
		newChunks = append(newChunks, c.chunks...)
	}

	replaced := false
	for _, ch := range idx.Chunks() {
		if incoming[ch.Source] {
			replaced = true
			break
		}
	}

	next := idx
	if !replaced && idx.Len() == 0 {
		err = s.appendChunks(ctx, idx, newChunks)
	} else {
		kept := make([]model.Chunk, 0, idx.Len()+len(newChunks))
		for _, ch := range idx.Chunks() {
			if !incoming[ch.Source] {
				kept = append(kept, ch)
			}
		}
		next, err = rebuildIndex(ctx, s.embedder, s.counter, append(kept, newChunks...), logger)
	}
	if err != nil {
		s.store.RemoveIfEmpty(s.store.IndexDir(sessionID)).Log(logger)
		return nil, err
	}
	if next.Len() == 0 {
		return nil, ErrEmptyResult
	}
	if err := s.store.SaveIndex(sessionID, next); err != nil {
		return nil, err
	}

	for _, c := range admitted {
		stored, err := s.store.CommitUpload(sessionID, c.source, c.staged, c.meta)
		if err != nil {
			logger.Warn().Err(err).Str("source", c.source).Msg("store upload failed")
		} else {
			c.staged = nil
		}
		result.Processed = append(result.Processed, ProcessedDocument{
			Name:   c.source,
			Stored: stored,
			Chunks: c.meta.Chunks,
			Tokens: c.meta.Tokens,
			Pages:  c.meta.Pages,
		})
	}
	result.ChunksAdded = len(newChunks)
	result.TotalChunks = next.Len()
	result.Replaced = replaced

	logger.Info().
		Int("processed", len(result.Processed)).
		Int("failed", len(result.Failed)).
		Int("chunks_added", result.ChunksAdded).
		Int("total_chunks", result.TotalChunks).
		Bool("replaced", replaced).
		Msg("batch indexed")
	return result, nil
}

// stage streams every upload to disk in input order.
func (s *IngestService) stage(sessionID string, files []UploadFile) []*candidate {
	seen := make(map[string]bool, len(files))
	candidates := make([]*candidate, 0, len(files))
	for _, f := range files {
		c := &candidate{source: displayName(f.Name)}
		candidates = append(candidates, c)

		switch {
		case seen[c.source]:
			c.err = &FileError{Name: c.source, Stage: "upload", Kind: FailDuplicate, Reason: "file sent more than once in the same upload"}
			continue
		case !s.extractor.Supports(c.source):
			ext := path.Ext(c.source)
			if ext == "" {
				ext = "(no extension)"
			}
			c.err = &FileError{Name: c.source, Stage: "validate", Kind: FailUnsupported, Reason: fmt.Sprintf("unsupported file type %q", ext)}
			continue
		}
		seen[c.source] = true

		staged, err := s.store.StageUpload(sessionID, c.source, f.Reader, s.opts.MaxUploadBytes)
		switch {
		case errors.Is(err, storage.ErrSizeLimit):
			c.err = &FileError{Name: c.source, Stage: "upload", Kind: FailSizeLimit, Reason: fmt.Sprintf("file is larger than %d bytes", s.opts.MaxUploadBytes)}
		case err != nil:
			c.err = &FileError{Name: c.source, Stage: "upload", Kind: FailUpload, Reason: err.Error()}
		case staged.Size == 0:
			s.store.DiscardStaged(staged).Log(s.logger)
			c.err = &FileError{Name: c.source, Stage: "upload", Kind: FailUpload, Reason: "file is empty"}
		default:
			c.staged = staged
		}
	}
	return candidates
}

// extractAll extracts and segments the staged files concurrently. Only a
// cancelled context stops the group; file problems stay on the candidate.
func (s *IngestService) extractAll(ctx context.Context, sessionID string, candidates []*candidate) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	for _, c := range candidates {
		if c.err != nil {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			s.prepare(sessionID, c)
			return nil
		})
	}
	return g.Wait()
}

func (s *IngestService) prepare(sessionID string, c *candidate) {
	pages, err := s.extractor.Extract(c.staged.Path, c.source)
	if err != nil {
		kind := FailExtraction
		if errors.Is(err, extract.ErrUnsupported) {
			kind = FailUnsupported
		}
		c.err = &FileError{Name: c.source, Stage: "extract", Kind: kind, Reason: err.Error()}
		return
	}

	var texts []string
	nonEmpty := 0
	for _, p := range pages {
		if strings.TrimSpace(p.Text) != "" {
			texts = append(texts, p.Text)
			nonEmpty++
		}
	}
	fullText := strings.Join(texts, "\n\n")
	tokens := s.counter.Count(fullText)
	if tokens > s.opts.HardDocumentTokens {
		c.err = &FileError{
			Name:   c.source,
			Stage:  "token_limit",
			Kind:   FailTokenLimit,
			Reason: fmt.Sprintf("document is too large (~%d tokens), the limit is %d tokens; split it into smaller parts", tokens, s.opts.HardDocumentTokens),
		}
		return
	}

	opts := s.opts.Segment
	opts.Prefix = strings.TrimSuffix(c.source, path.Ext(c.source))
	for _, p := range pages {
		for _, text := range segment.Split(p.Text, opts) {
			c.chunks = append(c.chunks, model.Chunk{
				Source:    c.source,
				Page:      p.Number,
				Text:      text,
				SessionID: sessionID,
				Tokens:    s.counter.Count(text),
			})
		}
	}
	if len(c.chunks) == 0 {
		c.err = &FileError{Name: c.source, Stage: "parse", Kind: FailEmpty, Reason: "no text could be extracted"}
		return
	}

	c.meta = model.DocumentMeta{
		Tokens:     tokens,
		Pages:      nonEmpty,
		Chunks:     len(c.chunks),
		Characters: len([]rune(fullText)),
		Words:      len(strings.Fields(fullText)),
		Bytes:      c.staged.Size,
		Checksum:   c.staged.Checksum,
		UploadedAt: time.Now(),
	}
}

// appendChunks embeds only the new chunks and adds them to idx.
func (s *IngestService) appendChunks(ctx context.Context, idx *vectorindex.Index, chunks []model.Chunk) error {
	vectors, aligned, err := embedChunks(ctx, s.embedder, s.counter, chunks, s.logger)
	if err != nil {
		return err
	}
	return idx.Add(vectors, aligned)
}

func (s *IngestService) chunkTokens(ch model.Chunk) int {
	if ch.Tokens > 0 {
		return ch.Tokens
	}
	return s.counter.Count(ch.Text)
}

// rebuildIndex embeds chunks from scratch into a new index.
func rebuildIndex(ctx context.Context, embedder Embedder, counter budget.Counter, chunks []model.Chunk, logger zerolog.Logger) (*vectorindex.Index, error) {
	vectors, aligned, err := embedChunks(ctx, embedder, counter, chunks, logger)
	if err != nil {
		return nil, err
	}
	idx := vectorindex.New(0)
	if err := idx.Add(vectors, aligned); err != nil {
		return nil, err
	}
	return idx, nil
}

// embedChunks returns the vectors and the chunks they belong to. Chunks the
// embedder skipped are dropped so positions stay aligned.
func embedChunks(ctx context.Context, embedder Embedder, counter budget.Counter, chunks []model.Chunk, logger zerolog.Logger) ([][]float32, []model.Chunk, error) {
	if len(chunks) == 0 {
		return nil, nil, nil
	}
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	res, err := embedder.Embed(ctx, texts)
	if err != nil {
		return nil, nil, err
	}
	if len(res.Indices) < len(chunks) {
		logger.Warn().Int("chunks", len(chunks)).Int("embedded", len(res.Indices)).Msg("some chunks were not embedded")
	}

	aligned := make([]model.Chunk, len(res.Indices))
	for i, pos := range res.Indices {
		ch := chunks[pos]
		if ch.Tokens <= 0 {
			ch.Tokens = counter.Count(ch.Text)
		}
		aligned[i] = ch
	}
	return res.Vectors, aligned, nil
}

func budgetFailure(name string, err error) *FileError {
	var rejected *budget.RejectedError
	if errors.As(err, &rejected) {
		details := rejected.Details
		return &FileError{Name: name, Stage: "token_validation", Kind: FailBudget, Reason: rejected.Message, Details: &details}
	}
	return &FileError{Name: name, Stage: "token_validation", Kind: FailBudget, Reason: err.Error()}
}

func notReceived(manifest []string, candidates []*candidate) []*FileError {
	if len(manifest) == 0 {
		return nil
	}
	received := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		received[c.source] = true
	}
	var failed []*FileError
	for _, name := range manifest {
		name = displayName(name)
		if name == "" || received[name] {
			continue
		}
		received[name] = true
		failed = append(failed, &FileError{Name: name, Stage: "upload", Kind: FailNotReceived, Reason: "file was not received"})
	}
	return failed
}

// displayName is the base name a client sent, with any directory removed.
func displayName(name string) string {
	name = strings.ReplaceAll(strings.TrimSpace(name), `\`, "/")
	name = name[strings.LastIndex(name, "/")+1:]
	if name == "" {
		name = "file_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	return name
}
