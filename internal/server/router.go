package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/requests-timeline/internal/auth"
	"github.com/MarcoPoloResearchLab/requests-timeline/internal/drafts"
	"github.com/MarcoPoloResearchLab/requests-timeline/internal/remote"
	"github.com/MarcoPoloResearchLab/requests-timeline/internal/reviewers"
	"github.com/MarcoPoloResearchLab/requests-timeline/internal/timeline"
)

const (
	userIDContextKey         = "timeline_user_id"
	defaultHeartbeatInterval = 25 * time.Second
)

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingRegistry         = errors.New("timeline registry dependency required")
)

// SessionValidator resolves the user behind a request.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

// Dependencies wires the HTTP handler.
type Dependencies struct {
	Sessions          SessionValidator
	Registry          *Registry
	MetricsHandler    http.Handler
	AllowedOrigins    []string
	HeartbeatInterval time.Duration
	Logger            *zap.Logger
}

// NewHTTPHandler builds the gin router serving the timeline API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Sessions == nil {
		return nil, errMissingSessionValidator
	}
	if deps.Registry == nil {
		return nil, errMissingRegistry
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		sessions:  deps.Sessions,
		registry:  deps.Registry,
		stream:    deps.Registry.cfg.Stream,
		heartbeat: heartbeat,
		logger:    logger,
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.MetricsHandler != nil {
		router.GET("/metrics", gin.WrapH(deps.MetricsHandler))
	}

	protected := router.Group("/requests/:request_id")
	protected.Use(handler.authorizeRequest)
	protected.GET("/timeline", handler.handleGetTimeline)
	protected.POST("/timeline/pages/:page", handler.handleLoadPage)
	protected.POST("/comments", handler.handleCreateComment)
	protected.PUT("/comments/:event_id", handler.handleUpdateComment)
	protected.DELETE("/comments/:event_id", handler.handleDeleteComment)
	protected.GET("/drafts", handler.handleListDrafts)
	protected.PUT("/draft", handler.handleSaveDraft)
	protected.DELETE("/draft", handler.handleClearDraft)
	protected.GET("/reviewers", handler.handleListReviewers)
	protected.GET("/reviewers/suggest", handler.handleSuggestReviewers)
	protected.PUT("/reviewers", handler.handleAddReviewer)
	protected.DELETE("/reviewers", handler.handleRemoveReviewer)
	protected.GET("/stream", handler.handleStream)

	return router, nil
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(allowedOrigins) == 0 {
		cfg.AllowOriginFunc = func(string) bool { return true }
	} else {
		cfg.AllowOrigins = allowedOrigins
	}
	return cors.New(cfg)
}

type httpHandler struct {
	sessions  SessionValidator
	registry  *Registry
	stream    *StreamDispatcher
	heartbeat time.Duration
	logger    *zap.Logger
}

type commentRequestPayload struct {
	Content string `json:"content"`
	Format  string `json:"format"`
}

type draftRequestPayload struct {
	Content string `json:"content"`
}

type draftResponsePayload struct {
	Content       string  `json:"content"`
	StoredContent *string `json:"stored_content,omitempty"`
	Status        string  `json:"status"`
	CanSubmit     bool    `json:"can_submit"`
}

type timelineResponsePayload struct {
	RequestID          string                 `json:"request_id"`
	ParentEventID      string                 `json:"parent_event_id,omitempty"`
	Reversed           bool                   `json:"reversed"`
	TotalHits          int                    `json:"total_hits"`
	InitialLoading     bool                   `json:"initial_loading"`
	LastPageRefreshing bool                   `json:"last_page_refreshing"`
	LoadingMore        bool                   `json:"loading_more"`
	Submitting         bool                   `json:"submitting"`
	Error              string                 `json:"error,omitempty"`
	SubmissionError    string                 `json:"submission_error,omitempty"`
	Warning            string                 `json:"warning,omitempty"`
	FocusedPage        *int                   `json:"focused_page,omitempty"`
	Refresh            string                 `json:"refresh"`
	Draft              draftResponsePayload   `json:"draft"`
	Feed               []timeline.Instruction `json:"feed"`
}

type storedDraftPayload struct {
	ParentEventID string    `json:"parent_event_id"`
	Content       string    `json:"content"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type draftsResponsePayload struct {
	Drafts []storedDraftPayload `json:"drafts"`
}

type reviewersResponsePayload struct {
	Reviewers []reviewers.Reviewer `json:"reviewers"`
}

type suggestionsResponsePayload struct {
	Results  []reviewers.Reviewer `json:"results"`
	Degraded bool                 `json:"degraded,omitempty"`
}

func (h *httpHandler) handleGetTimeline(c *gin.Context) {
	key, ok := h.draftKey(c)
	if !ok {
		return
	}
	var focus timeline.EventID
	if raw := c.Query("focus"); raw != "" {
		parsed, err := timeline.NewEventID(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_focus"})
			return
		}
		focus = parsed
	}

	current, err := h.registry.Open(c.Request.Context(), key, focus)
	if err != nil && current == nil {
		h.respondError(c, "timeline.open", err)
		return
	}
	c.JSON(http.StatusOK, timelineView(current))
}

func (h *httpHandler) handleLoadPage(c *gin.Context) {
	key, ok := h.draftKey(c)
	if !ok {
		return
	}
	page, err := strconv.Atoi(c.Param("page"))
	if err != nil || page < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_page"})
		return
	}
	current, err := h.registry.Open(c.Request.Context(), key, "")
	if err != nil {
		h.respondError(c, "timeline.open", err)
		return
	}
	if err := current.LoadPage(c.Request.Context(), page); err != nil {
		h.respondError(c, "timeline.load_page", err)
		return
	}
	c.JSON(http.StatusOK, timelineView(current))
}

func (h *httpHandler) handleCreateComment(c *gin.Context) {
	key, ok := h.draftKey(c)
	if !ok {
		return
	}
	var request commentRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	current, err := h.registry.Open(c.Request.Context(), key, "")
	if err != nil {
		h.respondError(c, "timeline.open", err)
		return
	}
	created, err := current.SubmitComment(c.Request.Context(), request.Content, request.Format)
	if err != nil {
		h.respondError(c, "comment.create", err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *httpHandler) handleUpdateComment(c *gin.Context) {
	key, ok := h.draftKey(c)
	if !ok {
		return
	}
	eventID, err := timeline.NewEventID(c.Param("event_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_event_id"})
		return
	}
	var request commentRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	current, err := h.registry.Open(c.Request.Context(), key, "")
	if err != nil {
		h.respondError(c, "timeline.open", err)
		return
	}
	updated, err := current.UpdateComment(c.Request.Context(), eventID, request.Content, request.Format)
	if err != nil {
		h.respondError(c, "comment.update", err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *httpHandler) handleDeleteComment(c *gin.Context) {
	key, ok := h.draftKey(c)
	if !ok {
		return
	}
	eventID, err := timeline.NewEventID(c.Param("event_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_event_id"})
		return
	}
	current, err := h.registry.Open(c.Request.Context(), key, "")
	if err != nil {
		h.respondError(c, "timeline.open", err)
		return
	}
	if err := current.DeleteComment(c.Request.Context(), eventID); err != nil {
		h.respondError(c, "comment.delete", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleSaveDraft(c *gin.Context) {
	key, ok := h.draftKey(c)
	if !ok {
		return
	}
	var request draftRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	current, err := h.registry.Open(c.Request.Context(), key, "")
	if err != nil {
		h.respondError(c, "timeline.open", err)
		return
	}
	current.SetDraftContent(request.Content)
	if err := current.SaveDraft(c.Request.Context()); err != nil {
		h.logger.Error("draft save failed", zap.String("draft_key", key.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, draftView(current))
		return
	}
	c.JSON(http.StatusOK, draftView(current))
}

func (h *httpHandler) handleListDrafts(c *gin.Context) {
	key, ok := h.draftKey(c)
	if !ok {
		return
	}
	stored, err := h.registry.Drafts(c.Request.Context(), key.UserID, key.RequestID)
	if err != nil {
		h.logger.Error("draft listing failed", zap.String("draft_key", key.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "draft_list_failed"})
		return
	}
	payload := draftsResponsePayload{Drafts: make([]storedDraftPayload, 0, len(stored))}
	for _, draft := range stored {
		payload.Drafts = append(payload.Drafts, storedDraftPayload{
			ParentEventID: draft.ParentEventID,
			Content:       draft.Content,
			UpdatedAt:     time.Unix(draft.UpdatedAtSeconds, 0).UTC(),
		})
	}
	c.JSON(http.StatusOK, payload)
}

func (h *httpHandler) handleClearDraft(c *gin.Context) {
	key, ok := h.draftKey(c)
	if !ok {
		return
	}
	current, err := h.registry.Open(c.Request.Context(), key, "")
	if err != nil {
		h.respondError(c, "timeline.open", err)
		return
	}
	if err := current.ClearDraft(c.Request.Context()); err != nil {
		h.logger.Error("draft clear failed", zap.String("draft_key", key.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "draft_clear_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleListReviewers(c *gin.Context) {
	service, ok := h.reviewerService(c)
	if !ok {
		return
	}
	selected, err := service.Load(c.Request.Context())
	if err != nil {
		h.respondError(c, "reviewers.load", err)
		return
	}
	c.JSON(http.StatusOK, reviewersResponsePayload{Reviewers: selected})
}

func (h *httpHandler) handleSuggestReviewers(c *gin.Context) {
	kind, err := reviewers.ParseKind(c.Query("kind"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_kind"})
		return
	}
	service, ok := h.reviewerService(c)
	if !ok {
		return
	}
	results, err := service.Search(c.Request.Context(), kind, c.Query("q"))
	c.JSON(http.StatusOK, suggestionsResponsePayload{Results: results, Degraded: err != nil})
}

func (h *httpHandler) handleAddReviewer(c *gin.Context) {
	var request reviewers.Reviewer
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.ID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	kind, err := reviewers.ParseKind(string(request.Kind))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_kind"})
		return
	}
	request.Kind = kind
	service, ok := h.reviewerService(c)
	if !ok {
		return
	}
	selected, err := service.Add(c.Request.Context(), request)
	if err != nil {
		h.respondError(c, "reviewers.add", err)
		return
	}
	c.JSON(http.StatusOK, reviewersResponsePayload{Reviewers: selected})
}

func (h *httpHandler) handleRemoveReviewer(c *gin.Context) {
	kind, err := reviewers.ParseKind(c.Query("kind"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_kind"})
		return
	}
	id := strings.TrimSpace(c.Query("id"))
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	service, ok := h.reviewerService(c)
	if !ok {
		return
	}
	selected, err := service.Remove(c.Request.Context(), kind, id)
	if err != nil {
		h.respondError(c, "reviewers.remove", err)
		return
	}
	c.JSON(http.StatusOK, reviewersResponsePayload{Reviewers: selected})
}

type streamPayload struct {
	Source        string   `json:"source"`
	RequestID     string   `json:"requestId,omitempty"`
	ParentEventID string   `json:"parentEventId,omitempty"`
	Reason        string   `json:"reason,omitempty"`
	EventIDs      []string `json:"eventIds,omitempty"`
	Timestamp     string   `json:"timestamp"`
}

func (h *httpHandler) handleStream(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	requestID := strings.TrimSpace(c.Param("request_id"))
	if requestID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	ctx := c.Request.Context()
	messages, cleanup := h.stream.Subscribe(ctx, streamTopic(userID, requestID))
	defer cleanup()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.SSEvent(streamEventHeartbeat, heartbeatPayload())
	c.Writer.Flush()

	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case message, open := <-messages:
			if !open {
				return false
			}
			c.SSEvent(message.EventType, streamPayload{
				Source:        streamSource,
				RequestID:     message.RequestID,
				ParentEventID: message.ParentID,
				Reason:        message.Reason,
				EventIDs:      message.EventIDs,
				Timestamp:     message.Timestamp.Format(time.RFC3339Nano),
			})
			return true
		case <-ticker.C:
			c.SSEvent(streamEventHeartbeat, heartbeatPayload())
			return true
		}
	})
}

func heartbeatPayload() streamPayload {
	return streamPayload{Source: streamSource, Timestamp: time.Now().UTC().Format(time.RFC3339Nano)}
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, auth.ErrMissingSessionToken) {
			h.logger.Info("session validation failed", zap.Error(err))
		} else {
			h.logger.Warn("session validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, claims.UserID)
	c.Next()
}

func (h *httpHandler) draftKey(c *gin.Context) (drafts.DraftKey, bool) {
	key, err := drafts.NewDraftKey(c.GetString(userIDContextKey), c.Param("request_id"), c.Query("parent"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return drafts.DraftKey{}, false
	}
	return key, true
}

func (h *httpHandler) reviewerService(c *gin.Context) (*reviewers.Service, bool) {
	key, ok := h.draftKey(c)
	if !ok {
		return nil, false
	}
	service, err := h.registry.Reviewers(key.RequestID)
	if err != nil {
		h.respondError(c, "reviewers.open", err)
		return nil, false
	}
	return service, true
}

func (h *httpHandler) respondError(c *gin.Context, operation string, err error) {
	status, code := classifyError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("operation", operation), zap.String("reason", code), zap.Error(err))
	} else {
		h.logger.Info("request rejected", zap.String("operation", operation), zap.String("reason", code), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}

func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, timeline.ErrCommentEmpty):
		return http.StatusUnprocessableEntity, "comment_empty"
	case errors.Is(err, timeline.ErrCommentTooLong):
		return http.StatusUnprocessableEntity, "comment_too_long"
	case errors.Is(err, timeline.ErrClosed):
		return http.StatusConflict, "timeline_closed"
	}
	var remoteErr *remote.RemoteError
	if errors.As(err, &remoteErr) && remoteErr.Status >= 400 && remoteErr.Status < 500 {
		return remoteErr.Status, remoteErr.Code
	}
	return http.StatusBadGateway, "remote_unavailable"
}

func timelineView(current *timeline.Timeline) timelineResponsePayload {
	state := current.Snapshot()
	feed := current.Feed()
	if feed == nil {
		feed = []timeline.Instruction{}
	}
	return timelineResponsePayload{
		RequestID:          current.RequestID(),
		ParentEventID:      current.ParentEventID().String(),
		Reversed:           current.IsReplyThread(),
		TotalHits:          state.Store.TotalHits(),
		InitialLoading:     state.InitialLoading,
		LastPageRefreshing: state.LastPageRefreshing,
		LoadingMore:        state.LoadingMore,
		Submitting:         state.Submitting,
		Error:              state.Error,
		SubmissionError:    state.SubmissionError,
		Warning:            state.Warning,
		FocusedPage:        state.FocusedPage,
		Refresh:            string(current.SchedulerState()),
		Draft:              draftView(current),
		Feed:               feed,
	}
}

func draftView(current *timeline.Timeline) draftResponsePayload {
	draft := current.Snapshot().Draft
	return draftResponsePayload{
		Content:       draft.CommentContent,
		StoredContent: draft.StoredCommentContent,
		Status:        string(current.VisibleDraftStatus()),
		CanSubmit:     current.CanSubmit(draft.CommentContent),
	}
}
