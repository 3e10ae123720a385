package sync

import (
	"errors"
	"html"
	"net/url"
	"strings"
	"time"

	"github.com/inkwelldms/inkwell/internal/annotations"
	"github.com/inkwelldms/inkwell/internal/notify"
	"github.com/inkwelldms/inkwell/internal/retry"
	"github.com/inkwelldms/inkwell/internal/viewer"
	"go.uber.org/zap"
)

var errImportProducedNothing = errors.New("sync: no transform yielded importable markup")

// pollForReadiness is the fallback path for surfaces whose ready signal fires
// before subscription or never fires at all. It probes structural readiness
// on a fixed interval until setup ran or the attempt budget is spent.
func (s *Session) pollForReadiness() {
	err := retry.Do(s.ctx, retry.Config{
		MaxAttempts: s.readyPollAttempts,
		Interval:    s.readyPollInterval,
	}, func() error {
		if s.State() != StateLoading {
			return retry.Abort(errSetupDone)
		}
		if s.surface.PageCount() > 0 && s.surface.HasAnnotationManager() {
			s.setUp()
			return nil
		}
		return errSurfaceNotReady
	})
	if err != nil && !errors.Is(err, errSetupDone) {
		s.logger.Debug("surface readiness poll gave up",
			zap.String("document_id", string(s.documentID)),
			zap.Error(err))
	}
}

// initialize hydrates the surface: blob first for fidelity, record rows
// layered on top for metadata. Overlay duplication with blob-carried shapes
// is accepted; the blob is a cache, the rows are the source of truth.
func (s *Session) initialize() {
	s.setState(StateImporting)
	s.importing.Store(true)

	payload, found, err := s.markup.Get(s.ctx, s.documentID)
	if err != nil {
		s.logger.Warn("markup blob fetch failed",
			zap.String("document_id", string(s.documentID)),
			zap.Error(err))
	}
	if found && len(strings.TrimSpace(payload)) > blobSanityMinLength {
		if importErr := s.importBlob(payload); importErr != nil {
			s.logger.Warn("markup blob import exhausted its budget",
				zap.String("document_id", string(s.documentID)),
				zap.Error(importErr))
		}
	}

	// Blob-carried objects get shadow entries too; a failed edit must be able
	// to restore them just like record-materialized ones. The overlay below
	// overwrites entries for objects that also have rows.
	for _, object := range s.surface.List() {
		s.rememberShadow(object)
	}

	s.overlayRecords()

	s.importing.Store(false)
	s.surface.OnChanged(s.handleChanged)
	s.setState(StateReady)
	s.logger.Info("document session ready",
		zap.String("document_id", string(s.documentID)),
		zap.Bool("editable", s.editable))
}

type payloadTransform struct {
	name  string
	apply func(string) (string, error)
}

// Blob payloads arrive with varying escaping applied by whichever client
// stored them. Each round walks the transforms in order and accepts the
// first one the surface both parses and materializes objects from.
func importTransforms() []payloadTransform {
	unescapeBackslashes := strings.NewReplacer(`\"`, `"`, `\n`, "\n", `\\`, `\`)
	return []payloadTransform{
		{name: "identity", apply: func(payload string) (string, error) {
			return payload, nil
		}},
		{name: "html_unescape", apply: func(payload string) (string, error) {
			return html.UnescapeString(payload), nil
		}},
		{name: "backslash_strip", apply: func(payload string) (string, error) {
			return unescapeBackslashes.Replace(payload), nil
		}},
		{name: "uri_decode", apply: url.QueryUnescape},
	}
}

func (s *Session) importBlob(payload string) error {
	transforms := importTransforms()
	return retry.Do(s.ctx, retry.Config{
		MaxAttempts: s.importRounds,
		Interval:    s.importInterval,
	}, func() error {
		for _, transform := range transforms {
			decoded, err := transform.apply(payload)
			if err != nil || strings.TrimSpace(decoded) == "" {
				continue
			}
			if importErr := s.surface.Import(s.ctx, decoded); importErr != nil {
				continue
			}
			if len(s.surface.List()) > 0 {
				s.logger.Debug("markup blob imported",
					zap.String("document_id", string(s.documentID)),
					zap.String("transform", transform.name))
				return nil
			}
		}
		return errImportProducedNothing
	})
}

func (s *Session) overlayRecords() {
	records, err := s.records.FindByDocument(s.ctx, s.documentID, nil)
	if err != nil {
		s.logger.Warn("annotation overlay fetch failed",
			zap.String("document_id", string(s.documentID)),
			zap.Error(err))
		return
	}
	for _, record := range records {
		object, translateErr := objectFromRecord(record)
		if translateErr != nil {
			s.logger.Warn("skipping untranslatable annotation row",
				zap.String("annotation_id", record.ID),
				zap.Error(translateErr))
			continue
		}
		s.surface.Add(object)
		s.rememberShadow(object)
	}
}

func (s *Session) rememberShadow(object viewer.Object) {
	s.mu.Lock()
	s.shadow[object.ID] = object
	s.mu.Unlock()
}

func (s *Session) forgetShadow(objectID string) {
	s.mu.Lock()
	delete(s.shadow, objectID)
	s.mu.Unlock()
}

func (s *Session) shadowOf(objectID string) (viewer.Object, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	object, ok := s.shadow[objectID]
	return object, ok
}

// snapshotOf prefers the shadow map, falling back to a surface lookup for
// objects that reached the surface without passing through hydration.
func (s *Session) snapshotOf(objectID string) (viewer.Object, bool) {
	if object, ok := s.shadowOf(objectID); ok {
		return object, true
	}
	for _, candidate := range s.surface.List() {
		if candidate.ID == objectID {
			return candidate, true
		}
	}
	return viewer.Object{}, false
}

// handleChanged is the single entry point for surface mutation events.
// Events raised by our own hydration are suppressed via the importing guard;
// batches are processed sequentially in emission order.
func (s *Session) handleChanged(objects []viewer.Object, kind viewer.ChangeKind) {
	if s.importing.Load() {
		return
	}
	if s.State() != StateReady {
		return
	}
	if !s.editable {
		s.notifier.Failure("This document is read-only for you")
		return
	}

	for _, object := range objects {
		switch kind {
		case viewer.ChangeAdd:
			s.handleAdd(object)
		case viewer.ChangeModify:
			s.handleModify(object)
		case viewer.ChangeDelete:
			s.handleDelete(object)
		}
	}
}

// handleAdd runs the optimistic create protocol: show the object immediately
// under a provisional id with a saving marker, persist, then swap in the
// confirmed identity or roll the provisional object back out.
func (s *Session) handleAdd(object viewer.Object) {
	body := userBody(object.Contents)

	provisional := object
	provisional.ID = s.provisionalID()
	provisional.Author = s.user.Name
	provisional.Contents = notify.SavingMarker + body
	if object.ID != "" {
		s.surface.Remove(object.ID)
	}
	s.surface.Add(provisional)

	content, err := contentFromObject(object, body)
	if err != nil {
		s.surface.Remove(provisional.ID)
		s.notifier.Failure("Could not read the new annotation")
		s.logger.Warn("annotation content translation failed", zap.Error(err))
		return
	}

	record, err := s.records.Create(s.ctx, annotations.CreateParams{
		DocumentID: s.documentID,
		UserID:     s.user.ID,
		UserName:   s.user.Name,
		PageNumber: object.PageNumber,
		Type:       object.Type,
		Content:    content,
		PositionX:  object.PositionX,
		PositionY:  object.PositionY,
	})
	if err != nil {
		s.surface.Remove(provisional.ID)
		s.notifier.Failure("Failed to save annotation")
		s.logError("annotation.save", err)
		return
	}

	confirmed := provisional
	confirmed.ID = record.ID
	confirmed.Contents = notify.MetadataHeader(record.SequenceNumber, displayAuthor(record), time.Unix(record.CreatedAtSeconds, 0).UTC()) + body
	s.surface.Remove(provisional.ID)
	s.surface.Add(confirmed)
	s.rememberShadow(confirmed)
	s.notifier.Saved(record)
	s.persistMarkup()
}

// handleModify persists an edit against the stored row, restoring the
// pre-edit snapshot when persistence fails. Edits to objects still carrying
// a provisional id are rejected, never queued.
func (s *Session) handleModify(object viewer.Object) {
	if object.ID == "" || isProvisionalID(object.ID) {
		s.notifier.Failure("Annotation has not finished saving yet")
		return
	}

	snapshot, haveSnapshot := s.snapshotOf(object.ID)

	body := userBody(object.Contents)
	content, err := contentFromObject(object, body)
	if err != nil {
		if haveSnapshot {
			s.surface.Add(snapshot)
		}
		s.notifier.Failure("Could not save changes; the annotation was restored")
		s.logger.Warn("annotation content translation failed", zap.Error(err))
		return
	}

	patch := annotations.UpdatePatch{
		Content:    content,
		PageNumber: &object.PageNumber,
		PositionX:  &object.PositionX,
		PositionY:  &object.PositionY,
	}
	record, err := s.records.Update(s.ctx, object.ID, s.user.ID, patch)
	if err != nil {
		if haveSnapshot {
			s.surface.Add(snapshot)
		}
		s.notifier.Failure("Could not save changes; the annotation was restored")
		s.logError("annotation.update", err)
		return
	}

	s.rememberShadow(object)
	s.notifier.Saved(record)
	s.persistMarkup()
}

// handleDelete removes the stored row, restoring the shadow clone when the
// delete fails server-side. The blob snapshot is refreshed either way so the
// cached markup matches what is actually on the surface.
func (s *Session) handleDelete(object viewer.Object) {
	if object.ID == "" || isProvisionalID(object.ID) {
		return
	}

	clone, haveClone := s.shadowOf(object.ID)

	if err := s.records.Delete(s.ctx, object.ID, s.user.ID); err != nil {
		if haveClone {
			s.surface.Add(clone)
		}
		s.notifier.Failure("Failed to delete annotation")
		s.logError("annotation.delete", err)
		s.persistMarkup()
		return
	}

	s.forgetShadow(object.ID)
	s.notifier.Deleted(s.documentID, object.ID)
	s.persistMarkup()
}

// persistMarkup snapshots the surface into the blob store. The blob is a
// best-effort cache: failures are logged, never retried and never surfaced,
// because the next mutation re-exports the full state anyway.
func (s *Session) persistMarkup() {
	payload, err := s.surface.Export(s.ctx)
	if err != nil {
		s.logger.Warn("markup export failed",
			zap.String("document_id", string(s.documentID)),
			zap.Error(err))
		return
	}
	if err := s.markup.Put(s.ctx, s.documentID, payload); err != nil {
		s.logger.Warn("markup persist failed",
			zap.String("document_id", string(s.documentID)),
			zap.Error(err))
	}
}

func (s *Session) logError(operation string, err error) {
	s.logger.Error("sync operation failed",
		zap.String("operation", operation),
		zap.String("document_id", string(s.documentID)),
		zap.String("user_id", string(s.user.ID)),
		zap.Error(err))
}
