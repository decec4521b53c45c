package pyramid

import "fmt"

// ChunkIndex is one chunk's address: one integer per dimension, in the
// same order as the array's Dims.
type ChunkIndex []int

// String returns a stable string key for use as a map key / cache key.
func (c ChunkIndex) String() string {
	s := make([]byte, 0, len(c)*4)
	for i, v := range c {
		if i > 0 {
			s = append(s, ',')
		}
		s = appendInt(s, v)
	}
	return string(s)
}

func appendInt(dst []byte, v int) []byte {
	if v == 0 {
		return append(dst, '0')
	}
	neg := v < 0
	if neg {
		v = -v
	}
	start := len(dst)
	for v > 0 {
		dst = append(dst, byte('0'+v%10))
		v /= 10
	}
	if neg {
		dst = append(dst, '-')
	}
	// reverse the digits just appended
	end := len(dst)
	for i, j := start, end-1; i < j; i, j = i+1, j-1 {
		dst[i], dst[j] = dst[j], dst[i]
	}
	return dst
}

// AxisCoords holds the ordered coordinate values of one non-spatial
// dimension.
type AxisCoords []CoordValue

// chunkContaining returns the chunk index along one axis that contains
// value v, by locating v's position in coords and dividing by chunkLen.
func chunkContaining(coords AxisCoords, chunkLen int, v CoordValue) (int, error) {
	for i, c := range coords {
		if c.Equal(v) {
			return i / chunkLen, nil
		}
	}
	return 0, fmt.Errorf("pyramid: coordinate value %q not found on axis", v.token())
}

func ceilDivChunks(n, chunkLen int) int {
	if chunkLen <= 0 {
		return 0
	}
	return (n + chunkLen - 1) / chunkLen
}

// GetChunks computes the Cartesian product of chunk indices a tile needs
// for one band:
//   - spatial dims use tileX/tileY directly (pyramids are laid out one
//     chunk per tile, per spatial dimension, at every level);
//   - a list-selector dim yields one chunk per listed coordinate;
//   - a scalar-selector dim yields the single chunk containing that value;
//   - an unconstrained dim yields every chunk covering the axis.
func GetChunks(
	sel Selector,
	dims []string,
	coords map[string]AxisCoords,
	shape, chunks []int,
	spatialDim map[string]bool, // dims that are "x"/"lon" or "y"/"lat"
	tileX, tileY int,
) ([]ChunkIndex, error) {
	if len(dims) != len(shape) || len(dims) != len(chunks) {
		return nil, fmt.Errorf("pyramid: dims/shape/chunks length mismatch (%d/%d/%d)", len(dims), len(shape), len(chunks))
	}

	perDim := make([][]int, len(dims))
	for i, d := range dims {
		switch {
		case spatialDim[d]:
			if isXAxis(d) {
				perDim[i] = []int{tileX}
			} else {
				perDim[i] = []int{tileY}
			}
		default:
			v, ok := sel[d]
			if !ok {
				// Unconstrained: every chunk covering the axis.
				n := ceilDivChunks(shape[i], chunks[i])
				idxs := make([]int, n)
				for k := range idxs {
					idxs[k] = k
				}
				perDim[i] = idxs
				continue
			}
			axis, ok := coords[d]
			if !ok {
				return nil, fmt.Errorf("pyramid: no coordinate values for dimension %q", d)
			}
			if v.IsList() {
				idxs := make([]int, 0, len(v.Values()))
				for _, val := range v.Values() {
					ci, err := chunkContaining(axis, chunks[i], val)
					if err != nil {
						return nil, err
					}
					idxs = append(idxs, ci)
				}
				perDim[i] = idxs
			} else {
				ci, err := chunkContaining(axis, chunks[i], v.ScalarValue())
				if err != nil {
					return nil, err
				}
				perDim[i] = []int{ci}
			}
		}
	}

	return cartesianProduct(perDim), nil
}

func isXAxis(d string) bool { return d == "x" || d == "lon" || d == "longitude" }

func cartesianProduct(perDim [][]int) []ChunkIndex {
	total := 1
	for _, d := range perDim {
		total *= len(d)
	}
	if total == 0 {
		return nil
	}
	out := make([]ChunkIndex, total)
	for i := range out {
		out[i] = make(ChunkIndex, len(perDim))
	}
	stride := 1
	for dim := len(perDim) - 1; dim >= 0; dim-- {
		vals := perDim[dim]
		for i := 0; i < total; i++ {
			out[i][dim] = vals[(i/stride)%len(vals)]
		}
		stride *= len(vals)
	}
	return out
}
