package api

import (
	"encoding/json"
	"fmt"

	"github.com/rasterpyramid/engine/internal/pyramid"
)

// parseSelector decodes the wire form of a pyramid.Selector: a JSON object
// mapping dimension name to either a scalar (number or string) or a list
// of scalars. A list entry expands to one band per value via
// pyramid.GetBandInformation; a scalar entry fixes that dimension for
// every band. An empty or absent raw selector yields an
// empty Selector.
func parseSelector(raw string) (pyramid.Selector, error) {
	sel := pyramid.Selector{}
	if raw == "" {
		return sel, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, fmt.Errorf("api: malformed selector: %w", err)
	}

	for dim, field := range fields {
		var list []json.RawMessage
		if err := json.Unmarshal(field, &list); err == nil {
			values := make([]pyramid.CoordValue, 0, len(list))
			for _, item := range list {
				cv, err := decodeCoordValue(item)
				if err != nil {
					return nil, fmt.Errorf("api: selector dimension %q: %w", dim, err)
				}
				values = append(values, cv)
			}
			sel[dim] = pyramid.List(values...)
			continue
		}

		cv, err := decodeCoordValue(field)
		if err != nil {
			return nil, fmt.Errorf("api: selector dimension %q: %w", dim, err)
		}
		sel[dim] = pyramid.Scalar(cv)
	}
	return sel, nil
}

func decodeCoordValue(raw json.RawMessage) (pyramid.CoordValue, error) {
	var num float64
	if err := json.Unmarshal(raw, &num); err == nil {
		return pyramid.NumberCoord(num), nil
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return pyramid.StringCoord(str), nil
	}
	return pyramid.CoordValue{}, fmt.Errorf("value %s is neither a number nor a string", raw)
}
