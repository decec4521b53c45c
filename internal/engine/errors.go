// Package engine is the orchestrator: it owns every tile, reacts to
// camera and selector changes, dispatches chunk loads, asks the viewport
// package for active tiles and LOD substitutes, and answers region
// queries over the same cache.
package engine

import (
	"errors"

	"github.com/rasterpyramid/engine/internal/pyramid"
	"github.com/rasterpyramid/engine/internal/viewport"
)

// MetadataInvalid, SelectorInvalid and TransportFault are the same
// sentinels internal/pyramid already defines (a tile-level selector or
// transport failure surfaces through the same value the engine checks
// with errors.Is); ProjectionInvalid is internal/viewport's. UnitsInvalid
// and ModeInvalid are engine-only.
var (
	ErrMetadataInvalid  = pyramid.ErrMetadataInvalid
	ErrSelectorInvalid  = pyramid.ErrSelectorInvalid
	ErrTransportFault   = pyramid.ErrTransportFault
	ErrProjectionInvalid = viewport.ErrProjectionInvalid

	ErrUnitsInvalid = errors.New("engine: units invalid")
	ErrModeInvalid  = errors.New("engine: mode invalid")
)
