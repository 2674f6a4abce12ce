package streams

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campus-music/backend/internal/middleware"
	"github.com/campus-music/backend/internal/models"
	"github.com/campus-music/backend/internal/signaling"
	"github.com/campus-music/backend/pkg/response"
)

// CreateRequest is the body for POST /streams.
type CreateRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
}

// Handler handles stream REST endpoints.
type Handler struct {
	repo   *Repository
	coord  *signaling.Coordinator
	logger *zap.Logger
}

// NewHandler creates a streams handler. The coordinator link lets the REST
// end action tear down a live room, not just flip the record.
func NewHandler(repo *Repository, coord *signaling.Coordinator, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, coord: coord, logger: logger}
}

// Create handles POST /streams (artist schedules a stream).
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	artistID, ok := currentUserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	stream, err := h.repo.Create(c.Request.Context(), artistID, req.Title, req.Description)
	if err != nil {
		h.logger.Error("create stream", zap.Error(err))
		response.Internal(c, "failed to create stream")
		return
	}
	response.Created(c, stream)
}

// ListLive handles GET /streams.
func (h *Handler) ListLive(c *gin.Context) {
	list, err := h.repo.ListLive(c.Request.Context())
	if err != nil {
		h.logger.Error("list live streams", zap.Error(err))
		response.Internal(c, "failed to list streams")
		return
	}
	if list == nil {
		list = []models.Stream{}
	}
	response.OK(c, list)
}

// GetByID handles GET /streams/:id.
func (h *Handler) GetByID(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid stream id")
		return
	}
	stream, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("get stream", zap.Error(err))
		response.Internal(c, "failed to load stream")
		return
	}
	if stream == nil {
		response.NotFound(c, "stream not found")
		return
	}
	response.OK(c, stream)
}

// ViewerCount handles GET /streams/:id/viewers.
func (h *Handler) ViewerCount(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid stream id")
		return
	}
	count, err := h.repo.LiveViewerCount(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("viewer count", zap.Error(err))
		response.Internal(c, "failed to read viewer count")
		return
	}
	response.OK(c, gin.H{"viewer_count": count})
}

// End handles POST /streams/:id/end. Only the stream's artist (or an admin)
// may end it. A live room is torn down through the coordinator, which also
// persists the final metrics; ending a never-started stream just flips the
// record.
func (h *Handler) End(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid stream id")
		return
	}
	stream, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("get stream", zap.Error(err))
		response.Internal(c, "failed to load stream")
		return
	}
	if stream == nil {
		response.NotFound(c, "stream not found")
		return
	}

	userID, ok := currentUserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	role, _ := c.Get(middleware.ContextUserRole)
	if stream.ArtistID != userID && role != string(models.RoleAdmin) {
		response.Forbidden(c, "only the stream owner can end it")
		return
	}

	if h.coord != nil {
		h.coord.EndStream(id.String(), stream.ArtistID.String())
	}
	if err := h.repo.MarkStreamEnded(c.Request.Context(), id.String(), stream.PeakViewers); err != nil {
		h.logger.Error("mark stream ended", zap.Error(err))
		response.Internal(c, "failed to end stream")
		return
	}
	response.OK(c, gin.H{"status": models.StreamStatusEnded})
}

func currentUserID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(middleware.ContextUserID)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}
