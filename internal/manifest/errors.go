package manifest

import (
	"errors"
	"fmt"
)

// DecodeError is returned when a metafile or mapping file is not valid JSON,
// typically because the bundler crashed or wrote a partial file. Callers must
// keep the previous mapping when they see it.
type DecodeError struct {
	Source string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("failed to decode manifest: %v", e.Err)
	}
	return fmt.Sprintf("failed to decode manifest %s: %v", e.Source, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsDecodeError reports whether err wraps a *DecodeError
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}
