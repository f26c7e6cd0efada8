package handler

import (
	"encoding/json"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"chatpdf/internal/app"
	"chatpdf/internal/transport/http/response"
)

type IndexHandler struct {
	ingest   *app.IngestService
	sessions *app.SessionService
}

type RemoveDocumentRequest struct {
	SessionID string `form:"session_id" json:"session_id"`
	Filename  string `form:"filename" json:"filename" binding:"required"`
}

func NewIndexHandler(ingest *app.IngestService, sessions *app.SessionService) *IndexHandler {
	return &IndexHandler{ingest: ingest, sessions: sessions}
}

// Batch indexes every file of a multipart upload. Files may be sent under
// "files" or "file".
func (h *IndexHandler) Batch(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid multipart payload")
		return
	}

	headers := append(form.File["files"], form.File["file"]...)
	if len(headers) == 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, app.ErrNoFiles.Error())
		return
	}

	var manifest []string
	if raw := strings.TrimSpace(c.PostForm("manifest")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &manifest); err != nil {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "manifest must be a JSON array of file names")
			return
		}
	}

	files := make([]app.UploadFile, 0, len(headers))
	opened := make([]multipart.File, 0, len(headers))
	defer func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}()
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "failed to read upload "+fh.Filename)
			return
		}
		opened = append(opened, f)
		files = append(files, app.UploadFile{Name: fh.Filename, Reader: f})
	}

	result, err := h.ingest.IngestBatch(c.Request.Context(), app.IngestInput{
		SessionID: c.PostForm("session_id"),
		Files:     files,
		Strict:    formBool(c.PostForm("strict")),
		Manifest:  manifest,
	})
	if err != nil {
		writeError(c, err, "indexing failed")
		return
	}

	if len(result.Failed) > 0 {
		response.Partial(c, "some files could not be indexed", result)
		return
	}
	response.OK(c, result)
}

func (h *IndexHandler) Remove(c *gin.Context) {
	var req RemoveDocumentRequest
	if err := c.ShouldBind(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	result, err := h.sessions.RemoveDocument(c.Request.Context(), req.SessionID, req.Filename)
	if err != nil {
		writeError(c, err, "remove document failed")
		return
	}
	response.OK(c, result)
}

func formBool(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
