// Package pyramid implements the tile pyramid cache: metadata parsing,
// chunk loading, band/selector algebra, and the per-tile state machine.
package pyramid

import "errors"

// Sentinel error kinds, checked with errors.Is by callers in internal/engine.
var (
	ErrMetadataInvalid = errors.New("pyramid: metadata invalid")
	ErrSelectorInvalid = errors.New("pyramid: selector invalid")
	ErrTransportFault  = errors.New("pyramid: transport fault")
)
