package pyramid

import (
	"fmt"
	"strconv"
	"strings"
)

// Key identifies one (x, y, z) tile. X and Y are canonical — always
// wrapped into [0, 2^z).
type Key struct {
	X, Y, Z uint32
}

// String returns the canonical "x,y,z" form.
func (k Key) String() string {
	return fmt.Sprintf("%d,%d,%d", k.X, k.Y, k.Z)
}

// ParseKey parses the canonical "x,y,z" form produced by Key.String.
func ParseKey(s string) (Key, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return Key{}, fmt.Errorf("pyramid: malformed tile key %q", s)
	}
	vals := make([]uint32, 3)
	for i, p := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(p), 10, 32)
		if err != nil {
			return Key{}, fmt.Errorf("pyramid: malformed tile key %q: %w", s, err)
		}
		vals[i] = uint32(v)
	}
	return Key{X: vals[0], Y: vals[1], Z: vals[2]}, nil
}

// TilesPerAxis returns 2^z.
func TilesPerAxis(z uint32) uint32 {
	return 1 << z
}

// WrapTileXInt wraps a signed tile x coordinate into the canonical
// [0, 2^z) range (horizontal world-wrap at the antimeridian).
func WrapTileXInt(x int64, z uint32) uint32 {
	n := int64(TilesPerAxis(z))
	x %= n
	if x < 0 {
		x += n
	}
	return uint32(x)
}

// Parent returns the key's parent at z-1, and false if z is already 0.
func (k Key) Parent() (Key, bool) {
	if k.Z == 0 {
		return Key{}, false
	}
	return Key{X: k.X / 2, Y: k.Y / 2, Z: k.Z - 1}, true
}

// Offset is a render-time displacement: a world-wrap or LOD-substitute
// tile is drawn at (OX, OY) tile-unit offsets from the camera's tile, at
// Level (which may differ from the key's own level after LOD fallback).
type Offset struct {
	OX, OY int32
	Level  uint32
}
