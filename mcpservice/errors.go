package mcpservice

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound reports that a provider does not own the requested URI or
	// name. The dispatcher moves on to the next provider.
	ErrNotFound = errors.New("not found")
	// ErrInvalidParams reports that the supplied arguments are unusable.
	ErrInvalidParams = errors.New("invalid params")
	// ErrRegistryFrozen is returned when registering after the registry was
	// frozen by server start.
	ErrRegistryFrozen = errors.New("registry is frozen")
)

// NotFound builds an error wrapping ErrNotFound for the given kind
// ("resource", "tool", "prompt") and identifier.
func NotFound(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, ErrNotFound)
}

// InvalidParams builds an error wrapping ErrInvalidParams.
func InvalidParams(format string, a ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidParams, fmt.Sprintf(format, a...))
}
