package climate

import "errors"

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("climate: invalid circuit config")
