package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"chatpdf/internal/app"
	"chatpdf/internal/transport/http/response"
)

type SessionHandler struct {
	sessions *app.SessionService
}

type RemoveSessionRequest struct {
	SessionID string `form:"session_id" json:"session_id" binding:"required"`
}

func NewSessionHandler(sessions *app.SessionService) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

func (h *SessionHandler) Stats(c *gin.Context) {
	stats, err := h.sessions.Stats(c.Param("id"))
	if err != nil {
		writeError(c, err, "read session stats failed")
		return
	}
	response.OK(c, stats)
}

func (h *SessionHandler) Documents(c *gin.Context) {
	docs, err := h.sessions.Documents(c.Param("id"))
	if err != nil {
		writeError(c, err, "list documents failed")
		return
	}
	response.OK(c, gin.H{"documents": docs})
}

func (h *SessionHandler) Remove(c *gin.Context) {
	var req RemoveSessionRequest
	if err := c.ShouldBind(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeNoSession, app.ErrNoSession.Error())
		return
	}

	result, err := h.sessions.RemoveSession(c.Request.Context(), req.SessionID)
	if err != nil {
		writeError(c, err, "remove session failed")
		return
	}
	response.OK(c, result)
}
