// Package server exposes the HTTP and websocket API.
package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/inkwelldms/inkwell/internal/annotations"
	"github.com/inkwelldms/inkwell/internal/auth"
	"github.com/inkwelldms/inkwell/internal/documents"
	"github.com/inkwelldms/inkwell/internal/presence"
	"github.com/inkwelldms/inkwell/internal/realtime"
	"go.uber.org/zap"
)

const (
	userIDContextKey      = "inkwell_user_id"
	displayNameContextKey = "inkwell_display_name"
	isAdminContextKey     = "inkwell_is_admin"
)

var (
	errMissingValidator     = errors.New("session validator dependency required")
	errMissingAnnotations   = errors.New("annotation store dependency required")
	errMissingBlobs         = errors.New("markup blob store dependency required")
	errMissingLocks         = errors.New("lock gate dependency required")
	errMissingDocuments     = errors.New("document service dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// SessionValidator decodes a bearer token into session claims.
type SessionValidator interface {
	ValidateToken(token string) (auth.SessionClaims, error)
}

// Dependencies wires the API surface. Presence is optional; its endpoints
// report unavailable when no tracker is configured.
type Dependencies struct {
	Validator   SessionValidator
	Annotations *annotations.Store
	Blobs       *annotations.BlobStore
	Locks       *annotations.LockGate
	Documents   *documents.Service
	Presence    *presence.Tracker
	Dispatcher  *realtime.Dispatcher
	Logger      *zap.Logger
}

// NewHTTPHandler validates the dependencies and builds the router.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Validator == nil {
		return nil, errMissingValidator
	}
	if deps.Annotations == nil {
		return nil, errMissingAnnotations
	}
	if deps.Blobs == nil {
		return nil, errMissingBlobs
	}
	if deps.Locks == nil {
		return nil, errMissingLocks
	}
	if deps.Documents == nil {
		return nil, errMissingDocuments
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	dispatcher := deps.Dispatcher
	if dispatcher == nil {
		dispatcher = realtime.NewDispatcher()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		validator:   deps.Validator,
		annotations: deps.Annotations,
		blobs:       deps.Blobs,
		locks:       deps.Locks,
		documents:   deps.Documents,
		presence:    deps.Presence,
		dispatcher:  dispatcher,
		logger:      logger,
	}

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)

	protected.POST("/documents", handler.handleDocumentUpload)
	protected.GET("/documents", handler.handleDocumentList)
	protected.GET("/documents/:documentID", handler.handleDocumentGet)
	protected.POST("/documents/:documentID/assign", handler.handleDocumentAssign)
	protected.GET("/documents/:documentID/activity", handler.handleDocumentActivity)

	protected.POST("/documents/:documentID/annotations", handler.handleAnnotationCreate)
	protected.GET("/documents/:documentID/annotations", handler.handleAnnotationList)
	protected.PATCH("/annotations/:annotationID", handler.handleAnnotationUpdate)
	protected.DELETE("/annotations/:annotationID", handler.handleAnnotationDelete)

	protected.GET("/documents/:documentID/markup", handler.handleMarkupGet)
	protected.PUT("/documents/:documentID/markup", handler.handleMarkupPut)

	protected.POST("/documents/:documentID/lock", handler.handleLockAcquire)
	protected.DELETE("/documents/:documentID/lock", handler.handleLockRelease)

	protected.POST("/documents/:documentID/presence", handler.handlePresenceHeartbeat)
	protected.DELETE("/documents/:documentID/presence", handler.handlePresenceLeave)
	protected.GET("/documents/:documentID/presence", handler.handlePresenceList)

	protected.GET("/documents/:documentID/events", handler.handleRealtimeSocket)

	return router, nil
}

type httpHandler struct {
	validator   SessionValidator
	annotations *annotations.Store
	blobs       *annotations.BlobStore
	locks       *annotations.LockGate
	documents   *documents.Service
	presence    *presence.Tracker
	dispatcher  *realtime.Dispatcher
	logger      *zap.Logger
}

// authorizeRequest accepts the bearer header, or the access_token query
// parameter for websocket upgrades where custom headers are unavailable.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token := ""
	header := c.GetHeader("Authorization")
	switch {
	case strings.HasPrefix(header, "Bearer "):
		token = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	default:
		token = strings.TrimSpace(c.Query("access_token"))
	}
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}

	claims, err := h.validator.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	c.Set(userIDContextKey, claims.Subject)
	c.Set(displayNameContextKey, claims.UserDisplayName)
	c.Set(isAdminContextKey, claims.IsAdmin())
	c.Next()
}

func (h *httpHandler) requestUser(c *gin.Context) (userID, displayName string, isAdmin bool) {
	return c.GetString(userIDContextKey), c.GetString(displayNameContextKey), c.GetBool(isAdminContextKey)
}

// respondStoreError maps the domain error taxonomy onto HTTP statuses.
func (h *httpHandler) respondStoreError(c *gin.Context, operation string, err error) {
	switch {
	case errors.Is(err, annotations.ErrValidation),
		errors.Is(err, annotations.ErrInvalidDocumentID),
		errors.Is(err, annotations.ErrInvalidUserID),
		errors.Is(err, documents.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
	case errors.Is(err, annotations.ErrNotFound), errors.Is(err, documents.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, annotations.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	default:
		h.logger.Error("request failed", zap.String("operation", operation), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}
