package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"pdfchat/internal/ai"
	"pdfchat/internal/app"
	"pdfchat/internal/index"
	"pdfchat/internal/loader"
	"pdfchat/internal/transport/http/middleware"
	"pdfchat/internal/transport/http/response"
)

type ChatHandler struct {
	chatService *app.ChatService
}

type ChatRequest struct {
	ObjectURL string `json:"object_url"`
	Query     string `json:"query" binding:"required"`
	SessionID string `json:"session_id"`
}

func NewChatHandler(chatService *app.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// Chat answers one message. Without a session_id a new session is created
// for object_url; with one, the message continues that conversation.
func (h *ChatHandler) Chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	result, err := h.chatService.Converse(c.Request.Context(), app.ConverseInput{
		SessionID: req.SessionID,
		Locator:   req.ObjectURL,
		Question:  req.Query,
		Subject:   c.GetString(middleware.ContextSubjectKey),
	})
	if err != nil {
		writeConverseError(c, err)
		return
	}

	response.OK(c, result)
}

func writeConverseError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, app.ErrInvalidInput), errors.Is(err, app.ErrQuestionEmpty):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
	case errors.Is(err, app.ErrSessionNotFound):
		response.Error(c, http.StatusNotFound, response.CodeSessionNotFound, err.Error())
	case errors.Is(err, loader.ErrDocumentUnavailable):
		response.Error(c, http.StatusUnprocessableEntity, response.CodeDocumentUnavailable, err.Error())
	case errors.Is(err, index.ErrUnknownDocument), errors.Is(err, index.ErrModelMismatch):
		response.Error(c, http.StatusConflict, response.CodeIndexConflict, err.Error())
	case errors.Is(err, index.ErrIndexBuildFailed):
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, err.Error())
	case errors.Is(err, ai.ErrEmbeddingProvider), errors.Is(err, ai.ErrGenerationProvider):
		response.Error(c, http.StatusServiceUnavailable, response.CodeProviderUnavailable, err.Error())
	default:
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "chat processing failed")
	}
}

// GetHistory returns the persisted turns for a session.
func (h *ChatHandler) GetHistory(c *gin.Context) {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "missing session_id")
		return
	}

	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}

	turns, err := h.chatService.GetHistory(c.Request.Context(), sessionID, limit)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		case errors.Is(err, app.ErrSessionNotFound):
			response.Error(c, http.StatusNotFound, response.CodeSessionNotFound, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "get history failed")
		}
		return
	}

	response.OK(c, turns)
}
