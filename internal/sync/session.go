// Package sync contains the synchronization engine: it mediates between the
// rendering surface's change events, the annotation record store, and the
// markup blob store, with optimistic local mutation and rollback on failure.
package sync

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	stdsync "sync"
	"sync/atomic"
	"time"

	"github.com/inkwelldms/inkwell/internal/annotations"
	"github.com/inkwelldms/inkwell/internal/notify"
	"github.com/inkwelldms/inkwell/internal/viewer"
	"go.uber.org/zap"
)

// State is the lifecycle of one open document session.
type State string

const (
	// StateLoading waits for the surface's readiness signal.
	StateLoading State = "loading"
	// StateImporting hydrates the surface from the blob and the record rows.
	StateImporting State = "importing"
	// StateReady accepts user mutations.
	StateReady State = "ready"
	// StateClosed is terminal after teardown.
	StateClosed State = "closed"
)

const (
	defaultImportRounds      = 6
	defaultImportInterval    = 300 * time.Millisecond
	defaultReadyPollAttempts = 20
	defaultReadyPollInterval = 400 * time.Millisecond

	// Payloads at or below this length cannot describe any markup object;
	// importing them would only burn the retry budget.
	blobSanityMinLength = 16

	provisionalPrefix = "pending-"
)

// ErrReadOnly rejects edit intents from a non-assignee session.
var ErrReadOnly = errors.New("sync: document is read-only for this user")

var (
	errMissingSurface     = errors.New("sync: surface is required")
	errMissingRecordStore = errors.New("sync: record store is required")
	errMissingMarkupStore = errors.New("sync: markup store is required")
	errMissingDocument    = errors.New("sync: document id is required")
	errMissingUser        = errors.New("sync: user id is required")
	errSetupDone          = errors.New("sync: setup already ran")
	errSurfaceNotReady    = errors.New("sync: surface not ready")
)

// RecordStore is the annotation row store consumed by the engine.
type RecordStore interface {
	Create(ctx context.Context, params annotations.CreateParams) (annotations.Record, error)
	FindByDocument(ctx context.Context, documentID annotations.DocumentID, pageNumber *int) ([]annotations.Record, error)
	Update(ctx context.Context, annotationID string, requester annotations.UserID, patch annotations.UpdatePatch) (annotations.Record, error)
	Delete(ctx context.Context, annotationID string, requester annotations.UserID) error
}

// MarkupStore is the serialized-markup blob store consumed by the engine.
type MarkupStore interface {
	Get(ctx context.Context, documentID annotations.DocumentID) (string, bool, error)
	Put(ctx context.Context, documentID annotations.DocumentID, payload string) error
}

// Notifier receives the user-visible half of each mutation outcome.
// Implementations must not block.
type Notifier interface {
	Saved(record annotations.Record)
	Deleted(documentID annotations.DocumentID, annotationID string)
	Failure(message string)
}

type nopNotifier struct{}

func (nopNotifier) Saved(annotations.Record)               {}
func (nopNotifier) Deleted(annotations.DocumentID, string) {}
func (nopNotifier) Failure(string)                         {}

// User identifies the session's editor.
type User struct {
	ID   annotations.UserID
	Name string
}

// SessionConfig describes one open document session.
type SessionConfig struct {
	DocumentID annotations.DocumentID
	User       User
	Editable   bool
	Surface    viewer.Surface
	Records    RecordStore
	Markup     MarkupStore
	Notifier   Notifier
	Logger     *zap.Logger
	Clock      func() time.Time

	ImportRounds      uint64
	ImportInterval    time.Duration
	ReadyPollAttempts uint64
	ReadyPollInterval time.Duration
}

// Session owns the surface handle, the import guard, and the retry loops for
// one open document. It is created per viewer instance and torn down with
// Close; no ambient globals.
type Session struct {
	documentID annotations.DocumentID
	user       User
	editable   bool
	surface    viewer.Surface
	records    RecordStore
	markup     MarkupStore
	notifier   Notifier
	logger     *zap.Logger
	clock      func() time.Time

	importRounds      uint64
	importInterval    time.Duration
	readyPollAttempts uint64
	readyPollInterval time.Duration

	mu     stdsync.Mutex
	state  State
	shadow map[string]viewer.Object

	setupOnce stdsync.Once
	importing atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewSession validates the configuration and returns an idle session.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.DocumentID == "" {
		return nil, errMissingDocument
	}
	if cfg.User.ID == "" {
		return nil, errMissingUser
	}
	if cfg.Surface == nil {
		return nil, errMissingSurface
	}
	if cfg.Records == nil {
		return nil, errMissingRecordStore
	}
	if cfg.Markup == nil {
		return nil, errMissingMarkupStore
	}

	notifier := cfg.Notifier
	if notifier == nil {
		notifier = nopNotifier{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	session := &Session{
		documentID:        cfg.DocumentID,
		user:              cfg.User,
		editable:          cfg.Editable,
		surface:           cfg.Surface,
		records:           cfg.Records,
		markup:            cfg.Markup,
		notifier:          notifier,
		logger:            logger,
		clock:             clock,
		importRounds:      cfg.ImportRounds,
		importInterval:    cfg.ImportInterval,
		readyPollAttempts: cfg.ReadyPollAttempts,
		readyPollInterval: cfg.ReadyPollInterval,
		state:             StateLoading,
		shadow:            make(map[string]viewer.Object),
	}
	if session.importRounds == 0 {
		session.importRounds = defaultImportRounds
	}
	if session.importInterval <= 0 {
		session.importInterval = defaultImportInterval
	}
	if session.readyPollAttempts == 0 {
		session.readyPollAttempts = defaultReadyPollAttempts
	}
	if session.readyPollInterval <= 0 {
		session.readyPollInterval = defaultReadyPollInterval
	}
	return session, nil
}

// Start subscribes to the surface's readiness signal and launches the
// fallback readiness poll. The surface's own signal is occasionally missed
// or fired before internal wiring completes; whichever path observes
// readiness first runs setup, the other becomes a no-op.
func (s *Session) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.ctx = runCtx
	s.cancel = cancel

	s.surface.OnReady(func() {
		s.setUp()
	})
	go s.pollForReadiness()
}

// Close cancels pending retries and detaches the change subscription.
func (s *Session) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	s.surface.OnChanged(nil)
	s.setState(StateClosed)
}

// State reports the session lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Editable reports whether this session may mutate the document.
func (s *Session) Editable() bool {
	return s.editable
}

// SelectTool forwards a markup-tool selection to the surface; edit intents
// are gated before they ever reach the surface.
func (s *Session) SelectTool(name string) error {
	if !s.editable {
		return ErrReadOnly
	}
	s.surface.SetToolMode(name)
	return nil
}

// ApplyStyle forwards a stroke/fill change to the surface, gated like tools.
func (s *Session) ApplyStyle(objectID string, style viewer.Style) error {
	if !s.editable {
		return ErrReadOnly
	}
	s.surface.SetStyle(objectID, style)
	return nil
}

// ZoomIn is a view-only operation and is never gated.
func (s *Session) ZoomIn() { s.surface.ZoomIn() }

// ZoomOut is a view-only operation and is never gated.
func (s *Session) ZoomOut() { s.surface.ZoomOut() }

// FitToPage is a view-only operation and is never gated.
func (s *Session) FitToPage() { s.surface.FitToPage() }

func (s *Session) setUp() {
	s.setupOnce.Do(func() {
		s.initialize()
	})
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Session) provisionalID() string {
	return fmt.Sprintf("%s%d-%04d", provisionalPrefix, s.clock().UTC().UnixNano(), rand.Intn(10000))
}

func isProvisionalID(id string) bool {
	return strings.HasPrefix(id, provisionalPrefix)
}

// userBody strips the saving marker or a metadata header from visible
// contents. Only those recognized prefixes are removed; a fresh object's
// contents are pure user text and pass through whole, blank lines included.
func userBody(contents string) string {
	if strings.HasPrefix(contents, notify.SavingMarker) {
		return contents[len(notify.SavingMarker):]
	}
	body, _ := notify.StripMetadataHeader(contents)
	return body
}
