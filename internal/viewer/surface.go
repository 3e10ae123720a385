// Package viewer defines the boundary to the third-party PDF rendering and
// markup engine. The engine is opaque: the rest of the system only ever
// talks to it through Surface, and surface-native objects cross the boundary
// as Object values carrying the tagged annotation type.
package viewer

import (
	"context"

	"github.com/inkwelldms/inkwell/internal/annotations"
)

// ChangeKind labels a markup-changed event emitted by the surface.
type ChangeKind string

const (
	// ChangeAdd reports newly drawn markup.
	ChangeAdd ChangeKind = "add"
	// ChangeModify reports edited markup.
	ChangeModify ChangeKind = "modify"
	// ChangeDelete reports removed markup.
	ChangeDelete ChangeKind = "delete"
)

// Object is the engine-owned wrapper around one surface-native markup
// object. Type-specific fields are only meaningful for their own kind.
type Object struct {
	ID          string
	Type        annotations.Type
	PageNumber  int
	Contents    string
	PositionX   float64
	PositionY   float64
	Author      string
	Quads       []annotations.Quad
	Path        string
	StrokeColor string
	FillColor   string
}

// Style adjusts the stroke and fill of a markup object.
type Style struct {
	StrokeColor string
	FillColor   string
}

// Surface is the opaque rendering surface. Import and Export speak the
// surface's serialized exchange format; List reflects its live object graph.
// Add upserts by object id.
type Surface interface {
	OnReady(callback func())
	OnChanged(callback func(objects []Object, kind ChangeKind))

	Import(ctx context.Context, payload string) error
	Export(ctx context.Context) (string, error)
	List() []Object
	Add(object Object)
	Remove(objectIDs ...string)

	SetToolMode(name string)
	SetStyle(objectID string, style Style)
	ZoomIn()
	ZoomOut()
	FitToPage()
	ZoomPercent() int

	PageCount() int
	HasAnnotationManager() bool
}
