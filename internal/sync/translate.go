package sync

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/inkwelldms/inkwell/internal/annotations"
	"github.com/inkwelldms/inkwell/internal/notify"
	"github.com/inkwelldms/inkwell/internal/viewer"
)

// This file is the only place that maps between surface-native objects and
// stored annotation content. Everything else dispatches on the tagged type.

func contentFromObject(object viewer.Object, userBody string) (json.RawMessage, error) {
	switch object.Type {
	case annotations.TypeStickyNote:
		return json.Marshal(annotations.StickyNoteContent{Text: userBody})
	case annotations.TypeHighlight:
		return json.Marshal(annotations.HighlightContent{
			Quads: object.Quads,
			Color: object.FillColor,
		})
	case annotations.TypeDrawing:
		return json.Marshal(annotations.DrawingContent{
			Path:        object.Path,
			StrokeColor: object.StrokeColor,
		})
	default:
		return nil, fmt.Errorf("%w: unknown annotation type %q", annotations.ErrValidation, object.Type)
	}
}

// objectFromRecord rebuilds a surface object from a stored row, baking the
// metadata header into the visible content so it survives later flattening.
func objectFromRecord(record annotations.Record) (viewer.Object, error) {
	object := viewer.Object{
		ID:         record.ID,
		Type:       record.Type,
		PageNumber: record.PageNumber,
		PositionX:  record.PositionX,
		PositionY:  record.PositionY,
		Author:     displayAuthor(record),
	}

	header := notify.MetadataHeader(record.SequenceNumber, object.Author, time.Unix(record.CreatedAtSeconds, 0).UTC())

	switch record.Type {
	case annotations.TypeStickyNote:
		var content annotations.StickyNoteContent
		if err := json.Unmarshal(record.Content, &content); err != nil {
			return viewer.Object{}, fmt.Errorf("sticky note content: %w", err)
		}
		object.Contents = header + content.Text
	case annotations.TypeHighlight:
		var content annotations.HighlightContent
		if err := json.Unmarshal(record.Content, &content); err != nil {
			return viewer.Object{}, fmt.Errorf("highlight content: %w", err)
		}
		object.Quads = content.Quads
		object.FillColor = content.Color
		object.Contents = header
	case annotations.TypeDrawing:
		var content annotations.DrawingContent
		if err := json.Unmarshal(record.Content, &content); err != nil {
			return viewer.Object{}, fmt.Errorf("drawing content: %w", err)
		}
		object.Path = content.Path
		object.StrokeColor = content.StrokeColor
		object.Contents = header
	default:
		return viewer.Object{}, fmt.Errorf("%w: unknown annotation type %q", annotations.ErrValidation, record.Type)
	}

	return object, nil
}

func displayAuthor(record annotations.Record) string {
	if record.UserName != "" {
		return record.UserName
	}
	return record.UserID
}
