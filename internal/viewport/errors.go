package viewport

import "errors"

// ErrProjectionInvalid is returned for an unknown projection name or CRS,
// fatal at engine construction.
var ErrProjectionInvalid = errors.New("viewport: projection invalid")
