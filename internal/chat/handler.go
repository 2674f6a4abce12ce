package chat

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campus-music/backend/internal/models"
	"github.com/campus-music/backend/pkg/response"
)

const (
	defaultPageSize = 100
	maxPageSize     = 500
)

// Handler serves chat history.
type Handler struct {
	repo   *Repository
	logger *zap.Logger
}

// NewHandler creates a chat handler.
func NewHandler(repo *Repository, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, logger: logger}
}

// ListByStream handles GET /streams/:id/chat?limit=&offset=.
func (h *Handler) ListByStream(c *gin.Context) {
	streamID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid stream id")
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultPageSize)))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}
	if offset < 0 {
		offset = 0
	}

	list, err := h.repo.ListByStream(c.Request.Context(), streamID, limit, offset)
	if err != nil {
		h.logger.Error("list chat messages", zap.Error(err))
		response.Internal(c, "failed to load chat history")
		return
	}
	if list == nil {
		list = []models.ChatMessage{}
	}
	response.OK(c, list)
}
