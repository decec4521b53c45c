package engine

// loadKind distinguishes the two sets LoadingTracker aggregates over:
// in-flight metadata fetches and in-flight chunk loads.
type loadKind int

const (
	loadMetadata loadKind = iota
	loadChunk
)

// LoadingTracker aggregates outstanding load IDs into three observable
// booleans: MetadataLoading, ChunkLoading, and Loading (their OR).
// Invariant: Loading() ⇔ (len(metadata)+len(chunk)) > 0, maintained on
// every SetLoading/ClearLoading call. Methods assume single-writer access
// from the engine's run loop goroutine.
type LoadingTracker struct {
	metadata map[uint64]struct{}
	chunk    map[uint64]struct{}
	nextID   uint64

	onChange func()
}

// NewLoadingTracker builds an empty tracker. onChange, if non-nil, is
// called synchronously after every transition of any of the three
// booleans.
func NewLoadingTracker(onChange func()) *LoadingTracker {
	return &LoadingTracker{
		metadata: make(map[uint64]struct{}),
		chunk:    make(map[uint64]struct{}),
		onChange: onChange,
	}
}

func (t *LoadingTracker) wasLoading() bool { return len(t.metadata)+len(t.chunk) > 0 }

func (t *LoadingTracker) state() [3]bool {
	return [3]bool{t.MetadataLoading(), t.ChunkLoading(), t.wasLoading()}
}

// SetLoading registers a new outstanding load of the given kind and
// returns its ID.
func (t *LoadingTracker) SetLoading(kind loadKind) uint64 {
	before := t.state()
	t.nextID++
	id := t.nextID
	switch kind {
	case loadMetadata:
		t.metadata[id] = struct{}{}
	case loadChunk:
		t.chunk[id] = struct{}{}
	}
	t.notifyIfChanged(before)
	return id
}

// ClearLoading removes id from whichever set it was registered in. A
// missing id is a no-op unless forceClear is true, in which case it is
// ignored either way (forceClear exists to let callers clear
// defensively without checking membership first).
func (t *LoadingTracker) ClearLoading(id uint64, forceClear bool) {
	before := t.state()
	_, inMeta := t.metadata[id]
	_, inChunk := t.chunk[id]
	if !inMeta && !inChunk && !forceClear {
		return
	}
	delete(t.metadata, id)
	delete(t.chunk, id)
	t.notifyIfChanged(before)
}

func (t *LoadingTracker) notifyIfChanged(before [3]bool) {
	after := t.state()
	if before != after && t.onChange != nil {
		t.onChange()
	}
}

// MetadataLoading reports whether any metadata load is outstanding.
func (t *LoadingTracker) MetadataLoading() bool { return len(t.metadata) > 0 }

// ChunkLoading reports whether any chunk load is outstanding.
func (t *LoadingTracker) ChunkLoading() bool { return len(t.chunk) > 0 }

// Loading reports whether any load of either kind is outstanding.
func (t *LoadingTracker) Loading() bool { return t.wasLoading() }
