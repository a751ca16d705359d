package capture

import "errors"

// ErrInvalidConfig is returned by constructors when a size or strategy is out
// of range.
var ErrInvalidConfig = errors.New("capture: invalid config")
