// Package notify is the user-facing half of the optimistic-update contract:
// transient toasts and the visible metadata headers baked into annotation
// contents.
package notify

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// SavingMarker is prepended to an annotation's visible content while its
// create is still in flight.
const SavingMarker = "Saving...\n\n"

const defaultNoticeTTL = 5 * time.Second

// Level classifies a transient notice.
type Level string

const (
	// LevelInfo is a neutral notice.
	LevelInfo Level = "info"
	// LevelSuccess confirms a completed operation.
	LevelSuccess Level = "success"
	// LevelError reports a failed operation.
	LevelError Level = "error"
)

// Notice is one bounded-lifetime transient message. Notices are
// presentation, never control flow.
type Notice struct {
	Level     Level
	Message   string
	ExpiresAt time.Time
}

const headerTimeFormat = "Jan 2, 2006 3:04 PM"

// MetadataHeader renders the header prefixed to an annotation's visible
// content once the server has confirmed it: ordinal, author, timestamp.
func MetadataHeader(sequenceNumber int64, author string, createdAt time.Time) string {
	return fmt.Sprintf("%d. %s\n%s\n\n", sequenceNumber, author, createdAt.Format(headerTimeFormat))
}

// StripMetadataHeader removes a leading MetadataHeader block from visible
// contents and reports whether one was present. Only a block matching the
// rendered shape is removed; user text that happens to contain a blank line
// is left intact.
func StripMetadataHeader(contents string) (string, bool) {
	index := strings.Index(contents, "\n\n")
	if index < 0 {
		return contents, false
	}
	lines := strings.Split(contents[:index], "\n")
	if len(lines) != 2 {
		return contents, false
	}
	ordinal, author, found := strings.Cut(lines[0], ". ")
	if !found || author == "" {
		return contents, false
	}
	if _, err := strconv.ParseInt(ordinal, 10, 64); err != nil {
		return contents, false
	}
	if _, err := time.Parse(headerTimeFormat, lines[1]); err != nil {
		return contents, false
	}
	return contents[index+2:], true
}

// TransientNotifierConfig configures notice lifetimes.
type TransientNotifierConfig struct {
	TTL   time.Duration
	Clock func() time.Time
}

// TransientNotifier collects auto-expiring notices for the UI to render.
type TransientNotifier struct {
	mu      sync.Mutex
	ttl     time.Duration
	clock   func() time.Time
	notices []Notice
}

// NewTransientNotifier constructs a notifier with sane defaults.
func NewTransientNotifier(cfg TransientNotifierConfig) *TransientNotifier {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultNoticeTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TransientNotifier{ttl: ttl, clock: clock}
}

// Push records a notice with the configured lifetime.
func (n *TransientNotifier) Push(level Level, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, Notice{
		Level:     level,
		Message:   message,
		ExpiresAt: n.clock().Add(n.ttl),
	})
}

// Active returns the not-yet-expired notices and drops the rest.
func (n *TransientNotifier) Active() []Notice {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.clock()
	kept := n.notices[:0]
	for _, notice := range n.notices {
		if notice.ExpiresAt.After(now) {
			kept = append(kept, notice)
		}
	}
	n.notices = kept

	out := make([]Notice, len(kept))
	copy(out, kept)
	return out
}
