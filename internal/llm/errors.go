package llm

import (
	"errors"
	"fmt"
)

// ErrUpstreamUnavailable marks a transport failure: network, quota, timeout or an
// unusable response envelope.
var ErrUpstreamUnavailable = errors.New("model upstream unavailable")

// Unavailable wraps err so that errors.Is(err, ErrUpstreamUnavailable) holds.
func Unavailable(model string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUpstreamUnavailable, model, err)
}
