package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"chatpdf/internal/app"
	"chatpdf/internal/transport/http/response"
)

type QueryHandler struct {
	query *app.QueryService
}

// QueryRequest binds from a form or a JSON body. use_llm defaults to on.
type QueryRequest struct {
	SessionID  string `form:"session_id" json:"session_id"`
	Question   string `form:"question" json:"question"`
	K          int    `form:"k" json:"k"`
	UseLLM     *bool  `form:"use_llm" json:"use_llm"`
	Extractive bool   `form:"llm_extractive" json:"extractive"`
}

func NewQueryHandler(query *app.QueryService) *QueryHandler {
	return &QueryHandler{query: query}
}

func (h *QueryHandler) Ask(c *gin.Context) {
	req := QueryRequest{K: 5}
	if err := c.ShouldBind(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	useLLM := true
	if req.UseLLM != nil {
		useLLM = *req.UseLLM
	}
	result, err := h.query.Ask(c.Request.Context(), app.QueryInput{
		SessionID:  req.SessionID,
		Question:   req.Question,
		K:          req.K,
		UseLLM:     useLLM,
		Extractive: req.Extractive,
	})
	if err != nil {
		writeError(c, err, "query failed")
		return
	}
	response.OK(c, result)
}
