package server

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/requests-timeline/internal/auth"
	"github.com/MarcoPoloResearchLab/requests-timeline/internal/database"
	"github.com/MarcoPoloResearchLab/requests-timeline/internal/drafts"
	"github.com/MarcoPoloResearchLab/requests-timeline/internal/metrics"
	"github.com/MarcoPoloResearchLab/requests-timeline/internal/remote"
	"github.com/MarcoPoloResearchLab/requests-timeline/internal/sanitize"
	"github.com/MarcoPoloResearchLab/requests-timeline/internal/timeline"
)

const (
	testSigningSecret = "test-signing-secret"
	testIssuer        = "requests-timeline"
	testCookieName    = "timeline_session"
	testPageSize      = 5
)

// fakeRequestAPI serves the remote request API from an in-memory event list.
type fakeRequestAPI struct {
	mu              sync.Mutex
	events          []timeline.Event
	nextID          int
	failCreate      bool
	reviewers       []remote.ReviewerRef
	reviewerUpdates [][]remote.ReviewerRef
}

func newFakeRequestAPI(total int) *fakeRequestAPI {
	api := &fakeRequestAPI{}
	for index := 1; index <= total; index++ {
		api.events = append(api.events, fakeComment(fmt.Sprintf("e%d", index), "seed"))
	}
	api.nextID = total
	return api
}

func fakeComment(id, content string) timeline.Event {
	return timeline.Event{
		ID:        timeline.EventID(id),
		Type:      timeline.EventTypeComment,
		Payload:   timeline.Payload{Content: content, Format: timeline.FormatHTML},
		CreatedBy: timeline.UserCreator("1"),
		Created:   time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (f *fakeRequestAPI) handler() http.Handler {
	router := gin.New()
	router.GET("/requests/:request_id/timeline", f.handleTimeline)
	router.GET("/requests/:request_id/comments/:event_id/replies", func(c *gin.Context) {
		var response remote.TimelineResponse
		response.Hits.Hits = []timeline.Event{}
		c.JSON(http.StatusOK, response)
	})
	router.POST("/requests/:request_id/comments", f.handleCreate)
	router.DELETE("/requests/:request_id/comments/:event_id", f.handleDelete)
	router.GET("/requests/:request_id", f.handleRequest)
	router.PUT("/requests/:request_id/reviewers", f.handleReviewers)
	router.GET("/users", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"hits": gin.H{"hits": []gin.H{
			{"id": "7", "username": "ada", "profile": gin.H{"full_name": "Ada Lovelace"}},
		}}})
	})
	router.GET("/groups", func(c *gin.Context) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": 503, "error": "unavailable", "message": "groups offline"})
	})
	return router
}

func (f *fakeRequestAPI) handleTimeline(c *gin.Context) {
	page, _ := strconv.Atoi(c.Query("page"))
	size, _ := strconv.Atoi(c.Query("size"))
	f.mu.Lock()
	defer f.mu.Unlock()
	start := (page - 1) * size
	end := start + size
	if start > len(f.events) {
		start = len(f.events)
	}
	if end > len(f.events) {
		end = len(f.events)
	}
	var response remote.TimelineResponse
	response.Hits.Hits = append([]timeline.Event{}, f.events[start:end]...)
	response.Hits.Total = len(f.events)
	c.JSON(http.StatusOK, response)
}

func (f *fakeRequestAPI) handleCreate(c *gin.Context) {
	var payload timeline.CommentPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": 400, "error": "bad_request", "message": err.Error()})
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreate {
		c.JSON(http.StatusInternalServerError, gin.H{"status": 500, "error": "internal", "message": "boom"})
		return
	}
	f.nextID++
	created := fakeComment(fmt.Sprintf("e%d", f.nextID), payload.Content)
	f.events = append(f.events, created)
	c.JSON(http.StatusCreated, created)
}

func (f *fakeRequestAPI) handleDelete(c *gin.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for index, event := range f.events {
		if event.ID.String() == c.Param("event_id") {
			f.events[index] = timeline.Event{
				ID:      event.ID,
				Type:    timeline.EventTypeLog,
				Payload: timeline.Payload{Content: "comment was deleted", Event: timeline.LogEventCommentDeleted},
			}
			c.Status(http.StatusNoContent)
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"status": 404, "error": "not_found", "message": "no such comment"})
}

func (f *fakeRequestAPI) handleReviewers(c *gin.Context) {
	var request remote.UpdateReviewersRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.Status(http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	f.reviewers = append([]remote.ReviewerRef(nil), request.Reviewers...)
	f.reviewerUpdates = append(f.reviewerUpdates, request.Reviewers)
	f.mu.Unlock()
	c.Status(http.StatusNoContent)
}

func (f *fakeRequestAPI) handleRequest(c *gin.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	expanded := make([]gin.H, 0, len(f.reviewers))
	for _, ref := range f.reviewers {
		if ref.Group != "" {
			expanded = append(expanded, gin.H{"id": ref.Group, "name": "Group " + ref.Group})
			continue
		}
		expanded = append(expanded, gin.H{"id": ref.User, "username": "user" + ref.User})
	}
	c.JSON(http.StatusOK, gin.H{
		"id":        c.Param("request_id"),
		"reviewers": append([]remote.ReviewerRef{}, f.reviewers...),
		"expanded":  gin.H{"reviewers": expanded},
	})
}

func (f *fakeRequestAPI) setReviewers(refs ...remote.ReviewerRef) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reviewers = refs
}

func (f *fakeRequestAPI) lastReviewerUpdate() []remote.ReviewerRef {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.reviewerUpdates) == 0 {
		return nil
	}
	return f.reviewerUpdates[len(f.reviewerUpdates)-1]
}

func (f *fakeRequestAPI) append(event timeline.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

type testEnvironment struct {
	server   *httptest.Server
	remote   *fakeRequestAPI
	registry *Registry
	store    *drafts.Store
	token    string
}

func newTestEnvironment(t *testing.T, remoteEvents int) *testEnvironment {
	t.Helper()
	gin.SetMode(gin.TestMode)

	fake := newFakeRequestAPI(remoteEvents)
	remoteServer := httptest.NewServer(fake.handler())
	t.Cleanup(remoteServer.Close)

	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "drafts.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	store, err := drafts.NewStore(drafts.StoreConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build draft store: %v", err)
	}

	client := remote.NewHTTPClient(remote.Options{BaseURL: remoteServer.URL})
	collector := metrics.NewCollector(prometheus.NewRegistry())
	dispatcher := NewStreamDispatcher(collector.SetStreamClients)
	registry, err := NewRegistry(RegistryConfig{
		Events: func(requestID string, parentID timeline.EventID) timeline.EventsAPI {
			return client.Timeline(requestID, parentID)
		},
		Reviewers: client,
		Drafts:    store,
		Sanitizer: sanitize.NewContentSanitizer(),
		Metrics:   collector,
		Gauge:     collector,
		Stream:    dispatcher,
		Settings: TimelineSettings{
			PageSize:         testPageSize,
			CommentMaxLength: 100,
			RefreshInterval:  -1,
		},
	})
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}
	t.Cleanup(registry.Close)

	sessionConfig := auth.SessionConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testIssuer,
		CookieName:    testCookieName,
	}
	validator, err := auth.NewSessionValidator(sessionConfig)
	if err != nil {
		t.Fatalf("failed to build validator: %v", err)
	}
	issuer, err := auth.NewSessionIssuer(sessionConfig)
	if err != nil {
		t.Fatalf("failed to build issuer: %v", err)
	}
	token, _, err := issuer.Issue("user-1", "user@example.org", "User One")
	if err != nil {
		t.Fatalf("failed to issue session: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Sessions:          validator,
		Registry:          registry,
		MetricsHandler:    metrics.Handler(prometheus.NewRegistry()),
		HeartbeatInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return &testEnvironment{server: server, remote: fake, registry: registry, store: store, token: token}
}
