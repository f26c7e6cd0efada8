package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"chatpdf/internal/app"
	"chatpdf/internal/model"
	"chatpdf/internal/transport/http/response"
)

type HistoryHandler struct {
	history  *app.HistoryService
	sessions *app.SessionService
}

// SaveHistoryRequest accepts messages either as a JSON array or, from a form,
// as a JSON encoded string. Timestamp is in Unix milliseconds.
type SaveHistoryRequest struct {
	SessionID string                 `json:"session_id"`
	Title     string                 `json:"title"`
	Timestamp int64                  `json:"timestamp"`
	Messages  []model.HistoryMessage `json:"messages"`
}

type DeleteHistoryRequest struct {
	SessionID string `form:"session_id" json:"session_id" binding:"required"`
}

func NewHistoryHandler(history *app.HistoryService, sessions *app.SessionService) *HistoryHandler {
	return &HistoryHandler{history: history, sessions: sessions}
}

func (h *HistoryHandler) Save(c *gin.Context) {
	req, err := bindSaveHistory(c)
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid history payload")
		return
	}

	var ts time.Time
	if req.Timestamp > 0 {
		ts = time.UnixMilli(req.Timestamp)
	}
	snapshot, err := h.history.Save(c.Request.Context(), app.SaveHistoryInput{
		SessionID: req.SessionID,
		Title:     req.Title,
		Timestamp: ts,
		Messages:  req.Messages,
	})
	if err != nil {
		writeError(c, err, "save chat history failed")
		return
	}
	response.OK(c, gin.H{
		"session_id":    snapshot.SessionID,
		"message_count": len(snapshot.Messages),
	})
}

func (h *HistoryHandler) Load(c *gin.Context) {
	snapshot, err := h.history.Load(c.Request.Context(), c.Query("session_id"))
	if err != nil {
		writeError(c, err, "load chat history failed")
		return
	}
	response.OK(c, snapshot)
}

func (h *HistoryHandler) List(c *gin.Context) {
	sessions, err := h.history.List(c.Request.Context())
	if err != nil {
		writeError(c, err, "list chat sessions failed")
		return
	}
	if sessions == nil {
		sessions = []model.ChatSessionSummary{}
	}
	response.OK(c, gin.H{"sessions": sessions})
}

// Delete removes the chat history and the session's index.
func (h *HistoryHandler) Delete(c *gin.Context) {
	var req DeleteHistoryRequest
	if err := c.ShouldBind(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeNoSession, app.ErrNoSession.Error())
		return
	}

	deleted, err := h.history.Delete(c.Request.Context(), req.SessionID)
	if err != nil {
		writeError(c, err, "delete chat history failed")
		return
	}

	indexDeleted := false
	if h.sessions != nil {
		indexDeleted, err = h.sessions.DropIndex(req.SessionID)
		if err != nil {
			// history is already gone; the index is best effort
			_ = c.Error(err)
		}
	}

	if !deleted {
		response.Error(c, http.StatusNotFound, response.CodeNotFound, "chat session not found")
		return
	}
	response.OK(c, gin.H{
		"session_id":    req.SessionID,
		"index_deleted": indexDeleted,
	})
}

func bindSaveHistory(c *gin.Context) (*SaveHistoryRequest, error) {
	var req SaveHistoryRequest
	if strings.HasPrefix(c.ContentType(), "application/json") {
		if err := c.ShouldBindJSON(&req); err != nil {
			return nil, err
		}
		return &req, nil
	}

	req.SessionID = c.PostForm("session_id")
	req.Title = c.PostForm("title")
	if raw := strings.TrimSpace(c.PostForm("timestamp")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.Timestamp); err != nil {
			return nil, err
		}
	}
	if raw := strings.TrimSpace(c.PostForm("messages")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.Messages); err != nil {
			return nil, err
		}
	}
	return &req, nil
}
