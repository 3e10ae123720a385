package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/inkwelldms/inkwell/internal/annotations"
	"github.com/inkwelldms/inkwell/internal/documents"
	"github.com/inkwelldms/inkwell/internal/realtime"
	"go.uber.org/zap"
)

type annotationPayload struct {
	AnnotationID     string          `json:"annotation_id"`
	DocumentID       string          `json:"document_id"`
	UserID           string          `json:"user_id"`
	UserName         string          `json:"user_name"`
	PageNumber       int             `json:"page_number"`
	Type             string          `json:"type"`
	Content          json.RawMessage `json:"content"`
	SequenceNumber   int64           `json:"sequence_number"`
	PositionX        float64         `json:"position_x"`
	PositionY        float64         `json:"position_y"`
	CreatedAtSeconds int64           `json:"created_at_s"`
	UpdatedAtSeconds int64           `json:"updated_at_s"`
}

func annotationFromRecord(record annotations.Record) annotationPayload {
	return annotationPayload{
		AnnotationID:     record.ID,
		DocumentID:       record.DocumentID,
		UserID:           record.UserID,
		UserName:         record.UserName,
		PageNumber:       record.PageNumber,
		Type:             string(record.Type),
		Content:          json.RawMessage(record.Content),
		SequenceNumber:   record.SequenceNumber,
		PositionX:        record.PositionX,
		PositionY:        record.PositionY,
		CreatedAtSeconds: record.CreatedAtSeconds,
		UpdatedAtSeconds: record.UpdatedAtSeconds,
	}
}

type createAnnotationRequest struct {
	PageNumber int             `json:"page_number"`
	Type       string          `json:"type"`
	Content    json.RawMessage `json:"content"`
	PositionX  float64         `json:"position_x"`
	PositionY  float64         `json:"position_y"`
}

func (h *httpHandler) handleAnnotationCreate(c *gin.Context) {
	userID, displayName, isAdmin := h.requestUser(c)

	documentID, err := annotations.NewDocumentID(c.Param("documentID"))
	if err != nil {
		h.respondStoreError(c, "annotations.create", err)
		return
	}
	requester, err := annotations.NewUserID(userID)
	if err != nil {
		h.respondStoreError(c, "annotations.create", err)
		return
	}

	allowed, err := h.documents.CanAnnotate(c.Request.Context(), documentID.String(), userID, isAdmin)
	if err != nil {
		h.respondStoreError(c, "annotations.create", err)
		return
	}
	if !allowed {
		c.JSON(http.StatusForbidden, gin.H{"error": "document_read_only"})
		return
	}

	var request createAnnotationRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	annotationType, err := annotations.ParseType(request.Type)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_annotation_type"})
		return
	}

	record, err := h.annotations.Create(c.Request.Context(), annotations.CreateParams{
		DocumentID: documentID,
		UserID:     requester,
		UserName:   displayName,
		PageNumber: request.PageNumber,
		Type:       annotationType,
		Content:    request.Content,
		PositionX:  request.PositionX,
		PositionY:  request.PositionY,
	})
	if err != nil {
		h.respondStoreError(c, "annotations.create", err)
		return
	}

	h.documents.RecordAction(c.Request.Context(), record.DocumentID, userID, documents.ActionAnnotationCreated, record.ID)
	h.publishAnnotationEvent(realtime.EventAnnotationSaved, record.DocumentID, record.ID, userID)
	c.JSON(http.StatusCreated, annotationFromRecord(record))
}

func (h *httpHandler) handleAnnotationList(c *gin.Context) {
	documentID, err := annotations.NewDocumentID(c.Param("documentID"))
	if err != nil {
		h.respondStoreError(c, "annotations.list", err)
		return
	}

	var pageFilter *int
	if raw := strings.TrimSpace(c.Query("page")); raw != "" {
		page, convErr := strconv.Atoi(raw)
		if convErr != nil || page < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_page"})
			return
		}
		pageFilter = &page
	}

	records, err := h.annotations.FindByDocument(c.Request.Context(), documentID, pageFilter)
	if err != nil {
		h.respondStoreError(c, "annotations.list", err)
		return
	}

	payloads := make([]annotationPayload, 0, len(records))
	for _, record := range records {
		payloads = append(payloads, annotationFromRecord(record))
	}
	c.JSON(http.StatusOK, gin.H{"annotations": payloads})
}

type updateAnnotationRequest struct {
	Content    json.RawMessage `json:"content"`
	Type       *string         `json:"type"`
	PageNumber *int            `json:"page_number"`
	PositionX  *float64        `json:"position_x"`
	PositionY  *float64        `json:"position_y"`
}

func (h *httpHandler) handleAnnotationUpdate(c *gin.Context) {
	userID, _, _ := h.requestUser(c)
	requester, err := annotations.NewUserID(userID)
	if err != nil {
		h.respondStoreError(c, "annotations.update", err)
		return
	}

	var request updateAnnotationRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	patch := annotations.UpdatePatch{
		Content:    request.Content,
		PageNumber: request.PageNumber,
		PositionX:  request.PositionX,
		PositionY:  request.PositionY,
	}
	if request.Type != nil {
		annotationType, parseErr := annotations.ParseType(*request.Type)
		if parseErr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_annotation_type"})
			return
		}
		patch.Type = &annotationType
	}

	record, err := h.annotations.Update(c.Request.Context(), c.Param("annotationID"), requester, patch)
	if err != nil {
		h.respondStoreError(c, "annotations.update", err)
		return
	}

	h.documents.RecordAction(c.Request.Context(), record.DocumentID, userID, documents.ActionAnnotationUpdated, record.ID)
	h.publishAnnotationEvent(realtime.EventAnnotationSaved, record.DocumentID, record.ID, userID)
	c.JSON(http.StatusOK, annotationFromRecord(record))
}

func (h *httpHandler) handleAnnotationDelete(c *gin.Context) {
	userID, _, _ := h.requestUser(c)
	requester, err := annotations.NewUserID(userID)
	if err != nil {
		h.respondStoreError(c, "annotations.delete", err)
		return
	}

	annotationID := c.Param("annotationID")
	record, err := h.annotations.Get(c.Request.Context(), annotationID)
	if err != nil {
		h.respondStoreError(c, "annotations.delete", err)
		return
	}
	if err := h.annotations.Delete(c.Request.Context(), annotationID, requester); err != nil {
		h.respondStoreError(c, "annotations.delete", err)
		return
	}

	h.documents.RecordAction(c.Request.Context(), record.DocumentID, userID, documents.ActionAnnotationDeleted, annotationID)
	h.publishAnnotationEvent(realtime.EventAnnotationDeleted, record.DocumentID, annotationID, userID)
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleMarkupGet(c *gin.Context) {
	documentID, err := annotations.NewDocumentID(c.Param("documentID"))
	if err != nil {
		h.respondStoreError(c, "markup.get", err)
		return
	}

	payload, found, err := h.blobs.Get(c.Request.Context(), documentID)
	if err != nil {
		h.respondStoreError(c, "markup.get", err)
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "no_markup"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"payload": payload})
}

type markupPutRequest struct {
	Payload string `json:"payload"`
}

func (h *httpHandler) handleMarkupPut(c *gin.Context) {
	userID, _, isAdmin := h.requestUser(c)

	documentID, err := annotations.NewDocumentID(c.Param("documentID"))
	if err != nil {
		h.respondStoreError(c, "markup.put", err)
		return
	}

	allowed, err := h.documents.CanAnnotate(c.Request.Context(), documentID.String(), userID, isAdmin)
	if err != nil {
		h.respondStoreError(c, "markup.put", err)
		return
	}
	if !allowed {
		c.JSON(http.StatusForbidden, gin.H{"error": "document_read_only"})
		return
	}

	var request markupPutRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if err := h.blobs.Put(c.Request.Context(), documentID, request.Payload); err != nil {
		h.respondStoreError(c, "markup.put", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleLockAcquire(c *gin.Context) {
	userID, _, _ := h.requestUser(c)

	documentID, err := annotations.NewDocumentID(c.Param("documentID"))
	if err != nil {
		h.respondStoreError(c, "lock.acquire", err)
		return
	}
	requester, err := annotations.NewUserID(userID)
	if err != nil {
		h.respondStoreError(c, "lock.acquire", err)
		return
	}

	status, err := h.locks.Acquire(c.Request.Context(), documentID, requester)
	if err != nil {
		h.respondStoreError(c, "lock.acquire", err)
		return
	}

	response := gin.H{
		"granted":   status.Granted,
		"holder":    status.Holder,
		"since_s":   status.SinceSeconds,
		"expiry_s":  int64(annotations.LockExpiry.Seconds()),
		"document":  documentID.String(),
		"requester": userID,
	}
	if !status.Granted {
		c.JSON(http.StatusLocked, response)
		return
	}

	h.publishAnnotationEvent(realtime.EventLockChanged, documentID.String(), "", userID)
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleLockRelease(c *gin.Context) {
	userID, _, isAdmin := h.requestUser(c)

	documentID, err := annotations.NewDocumentID(c.Param("documentID"))
	if err != nil {
		h.respondStoreError(c, "lock.release", err)
		return
	}
	requester, err := annotations.NewUserID(userID)
	if err != nil {
		h.respondStoreError(c, "lock.release", err)
		return
	}

	if err := h.locks.Release(c.Request.Context(), documentID, requester, isAdmin); err != nil {
		h.respondStoreError(c, "lock.release", err)
		return
	}

	h.publishAnnotationEvent(realtime.EventLockChanged, documentID.String(), "", userID)
	c.Status(http.StatusNoContent)
}

type documentPayload struct {
	DocumentID       string `json:"document_id"`
	Title            string `json:"title"`
	FileName         string `json:"file_name"`
	ContentType      string `json:"content_type"`
	SizeBytes        int64  `json:"size_bytes"`
	FileURL          string `json:"file_url"`
	UploadedBy       string `json:"uploaded_by"`
	AssignedTo       string `json:"assigned_to"`
	CreatedAtSeconds int64  `json:"created_at_s"`
	UpdatedAtSeconds int64  `json:"updated_at_s"`
}

func documentFromModel(document documents.Document) documentPayload {
	return documentPayload{
		DocumentID:       document.ID,
		Title:            document.Title,
		FileName:         document.FileName,
		ContentType:      document.ContentType,
		SizeBytes:        document.SizeBytes,
		FileURL:          document.FileURL,
		UploadedBy:       document.UploadedBy,
		AssignedTo:       document.AssignedTo,
		CreatedAtSeconds: document.CreatedAtSeconds,
		UpdatedAtSeconds: document.UpdatedAtSeconds,
	}
}

func (h *httpHandler) handleDocumentUpload(c *gin.Context) {
	userID, _, isAdmin := h.requestUser(c)
	if !isAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "admin_required"})
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file_required"})
		return
	}
	title := strings.TrimSpace(c.PostForm("title"))
	if title == "" {
		title = fileHeader.Filename
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable_file"})
		return
	}
	defer file.Close()

	document, err := h.documents.Upload(c.Request.Context(), documents.UploadParams{
		Title:       title,
		FileName:    fileHeader.Filename,
		ContentType: fileHeader.Header.Get("Content-Type"),
		SizeBytes:   fileHeader.Size,
		Reader:      file,
		UploadedBy:  userID,
	})
	if err != nil {
		h.respondStoreError(c, "documents.upload", err)
		return
	}
	c.JSON(http.StatusCreated, documentFromModel(document))
}

func (h *httpHandler) handleDocumentList(c *gin.Context) {
	rows, err := h.documents.List(c.Request.Context())
	if err != nil {
		h.respondStoreError(c, "documents.list", err)
		return
	}
	payloads := make([]documentPayload, 0, len(rows))
	for _, row := range rows {
		payloads = append(payloads, documentFromModel(row))
	}
	c.JSON(http.StatusOK, gin.H{"documents": payloads})
}

func (h *httpHandler) handleDocumentGet(c *gin.Context) {
	document, err := h.documents.Get(c.Request.Context(), c.Param("documentID"))
	if err != nil {
		h.respondStoreError(c, "documents.get", err)
		return
	}
	c.JSON(http.StatusOK, documentFromModel(document))
}

type assignRequest struct {
	AssigneeID string `json:"assignee_id"`
}

func (h *httpHandler) handleDocumentAssign(c *gin.Context) {
	userID, _, isAdmin := h.requestUser(c)
	if !isAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "admin_required"})
		return
	}

	var request assignRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	document, err := h.documents.Assign(c.Request.Context(), c.Param("documentID"), request.AssigneeID, userID)
	if err != nil {
		h.respondStoreError(c, "documents.assign", err)
		return
	}
	c.JSON(http.StatusOK, documentFromModel(document))
}

func (h *httpHandler) handleDocumentActivity(c *gin.Context) {
	entries, err := h.documents.Activity(c.Request.Context(), c.Param("documentID"))
	if err != nil {
		h.respondStoreError(c, "documents.activity", err)
		return
	}

	type activityPayload struct {
		ActorID          string `json:"actor_id"`
		Action           string `json:"action"`
		Detail           string `json:"detail,omitempty"`
		CreatedAtSeconds int64  `json:"created_at_s"`
	}
	payloads := make([]activityPayload, 0, len(entries))
	for _, entry := range entries {
		payloads = append(payloads, activityPayload{
			ActorID:          entry.ActorID,
			Action:           string(entry.Action),
			Detail:           entry.Detail,
			CreatedAtSeconds: entry.CreatedAtSeconds,
		})
	}
	c.JSON(http.StatusOK, gin.H{"activity": payloads})
}

func (h *httpHandler) handlePresenceHeartbeat(c *gin.Context) {
	if h.presence == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "presence_disabled"})
		return
	}
	userID, displayName, _ := h.requestUser(c)
	if err := h.presence.Heartbeat(c.Request.Context(), c.Param("documentID"), userID, displayName); err != nil {
		h.logger.Warn("presence heartbeat failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handlePresenceLeave(c *gin.Context) {
	if h.presence == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "presence_disabled"})
		return
	}
	userID, _, _ := h.requestUser(c)
	if err := h.presence.Leave(c.Request.Context(), c.Param("documentID"), userID); err != nil {
		h.logger.Warn("presence leave failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handlePresenceList(c *gin.Context) {
	if h.presence == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "presence_disabled"})
		return
	}
	viewers, err := h.presence.ActiveViewers(c.Request.Context(), c.Param("documentID"))
	if err != nil {
		h.logger.Warn("presence list failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	type viewerPayload struct {
		UserID      string `json:"user_id"`
		DisplayName string `json:"display_name"`
	}
	payloads := make([]viewerPayload, 0, len(viewers))
	for _, viewer := range viewers {
		payloads = append(payloads, viewerPayload{UserID: viewer.UserID, DisplayName: viewer.DisplayName})
	}
	c.JSON(http.StatusOK, gin.H{"viewers": payloads})
}

func (h *httpHandler) handleRealtimeSocket(c *gin.Context) {
	documentID := c.Param("documentID")
	conn, err := realtime.Upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	stream, cleanup := h.dispatcher.Subscribe(ctx, documentID)
	defer cleanup()

	realtime.ServeSocket(ctx, conn, stream, h.logger)
}

func (h *httpHandler) publishAnnotationEvent(eventType, documentID, annotationID, actorID string) {
	if documentID == "" {
		return
	}
	h.dispatcher.Publish(realtime.Message{
		DocumentID:   documentID,
		EventType:    eventType,
		AnnotationID: annotationID,
		ActorID:      actorID,
		Timestamp:    time.Now().UTC(),
	})
}
