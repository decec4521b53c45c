package engine

import "github.com/rasterpyramid/engine/internal/geo"

// Camera is the windowing/map library's camera + projection interface —
// the only way the engine touches that out-of-scope collaborator.
type Camera interface {
	Project(coord geo.LngLat, referencePoint *geo.LngLat) (geo.ScreenPoint, error)
	Unproject(p geo.ScreenPoint) (geo.LngLat, error)
	Center() geo.LngLat
	Zoom() float64
	Bounds() (sw, ne geo.LngLat)
	On(event string, cb func())
	Off(event string, cb func())
	TriggerRepaint()
}

// AttachCamera wires a Camera's move and render events to UpdateCamera, so
// the host UI layer only has to hand the engine a Camera implementation
// rather than call UpdateCamera itself on every event.
func (e *Engine) AttachCamera(cam Camera) {
	onMove := func() {
		e.UpdateCamera(cam.Center(), cam.Zoom())
		cam.TriggerRepaint()
	}
	cam.On("move", onMove)
	cam.On("render", onMove)
	onMove()
}
