package viewport

import "github.com/rasterpyramid/engine/internal/pyramid"

// GetKeysToRender implements the LOD fallback policy for one active key:
// walk ancestors for a populated stand-in, else search descendant
// coverage, else fall back to the target key itself. isPopulated reports
// whether a given tile's buffer is populated under the current selector.
func GetKeysToRender(key pyramid.Key, isPopulated func(pyramid.Key) bool, maxZoom uint32) []pyramid.Key {
	if isPopulated(key) {
		return []pyramid.Key{key}
	}
	cur := key
	for {
		parent, ok := cur.Parent()
		if !ok {
			break
		}
		if isPopulated(parent) {
			return []pyramid.Key{parent}
		}
		cur = parent
	}

	bestCoverage := -1.0
	var bestKeys []pyramid.Key
	for delta := uint32(1); key.Z+delta <= maxZoom; delta++ {
		var populated []pyramid.Key
		total := 0
		for i := uint32(0); i <= delta; i++ {
			for j := uint32(0); j <= delta; j++ {
				k := pyramid.Key{X: (key.X << delta) + i, Y: (key.Y << delta) + j, Z: key.Z + delta}
				total++
				if isPopulated(k) {
					populated = append(populated, k)
				}
			}
		}
		coverage := float64(len(populated)) / float64(total)
		if coverage > bestCoverage {
			bestCoverage = coverage
			bestKeys = populated
		}
	}
	if len(bestKeys) > 0 {
		return bestKeys
	}
	return []pyramid.Key{key}
}

// GetOverlappingAncestor returns a rendered key strictly coarser than key
// whose (x,y) at key's level is key's ancestor, and true if one exists.
// Used to suppress drawing a child whose pixels a coarser stand-in
// already covers.
func GetOverlappingAncestor(key pyramid.Key, rendered []pyramid.Key) (pyramid.Key, bool) {
	for _, rk := range rendered {
		if rk.Z >= key.Z {
			continue
		}
		shift := key.Z - rk.Z
		if (key.X>>shift) == rk.X && (key.Y>>shift) == rk.Y {
			return rk, true
		}
	}
	return pyramid.Key{}, false
}

// GetAdjustedOffset rescales offset — computed for the original target
// level offset.Level — to the level of the substitute renderedKey
// actually being drawn, adding back a descendant's residual sub-tile
// position when renderedKey is finer than offset.Level.
func GetAdjustedOffset(offset pyramid.Offset, renderedKey pyramid.Key) pyramid.Offset {
	delta := int32(offset.Level) - int32(renderedKey.Z)

	var ox, oy int32
	if delta >= 0 {
		div := int32(1) << uint32(delta)
		ox = offset.OX / div
		oy = offset.OY / div
	} else {
		shift := uint32(-delta)
		ox = offset.OX << shift
		oy = offset.OY << shift
	}

	if renderedKey.Z > offset.Level {
		d := renderedKey.Z - offset.Level
		mod := int32(1) << d
		ox += int32(renderedKey.X) % mod
		oy += int32(renderedKey.Y) % mod
	}

	return pyramid.Offset{OX: ox, OY: oy, Level: renderedKey.Z}
}
