package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"chatpdf/internal/ai"
	"chatpdf/internal/app"
	"chatpdf/internal/storage"
	"chatpdf/internal/transport/http/response"
	"chatpdf/internal/vectorindex"
)

// writeError maps service errors onto the response envelope. Anything
// unrecognized becomes a 500 with fallback as the message.
func writeError(c *gin.Context, err error, fallback string) {
	_ = c.Error(err)

	var batchErr *app.BatchError
	var backendErr *ai.BackendError
	switch {
	case errors.As(err, &batchErr):
		data := gin.H{"failed": batchErr.Failed}
		if batchErr.Strict {
			response.ErrorWithData(c, http.StatusConflict, response.CodeStrictRejected, batchErr.Error(), data)
			return
		}
		response.ErrorWithData(c, http.StatusBadRequest, response.CodeNothingIndexed, batchErr.Error(), data)
	case errors.As(err, &backendErr):
		response.ErrorWithData(c, backendErr.HTTPStatus(), response.CodeUpstream, backendErr.UserMessage(), gin.H{
			"upstream_status": backendErr.Status,
			"kind":            backendErr.Kind,
		})
	case errors.Is(err, app.ErrNoSession):
		response.Error(c, http.StatusBadRequest, response.CodeNoSession, err.Error())
	case errors.Is(err, app.ErrEmptyQuestion):
		response.Error(c, http.StatusBadRequest, response.CodeEmptyQuestion, err.Error())
	case errors.Is(err, app.ErrNoDocuments):
		response.Error(c, http.StatusBadRequest, response.CodeNoDocuments, err.Error())
	case errors.Is(err, app.ErrEmptyResult):
		response.Error(c, http.StatusUnprocessableEntity, response.CodeNoResults, err.Error())
	case errors.Is(err, app.ErrInvalidInput), errors.Is(err, app.ErrNoFiles), errors.Is(err, storage.ErrInvalidSessionID):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
	case errors.Is(err, app.ErrHistoryEnqueue):
		response.Error(c, http.StatusServiceUnavailable, response.CodeUnavailable, err.Error())
	case errors.Is(err, vectorindex.ErrDimensionMismatch):
		response.Error(c, http.StatusConflict, response.CodeStrictRejected, "the session index was built with a different embedding model; remove the session and upload again")
	default:
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, fallback)
	}
}
