package models

import "errors"

// Error taxonomy shared by the screening, exit and monitor loops.
var (
	// ErrDataUnavailable marks a symbol whose quote or series is missing or invalid.
	// The symbol is skipped for the current cycle.
	ErrDataUnavailable = errors.New("data unavailable")

	// ErrProviderFailure marks a network or API error from a market data provider.
	ErrProviderFailure = errors.New("provider failure")

	// ErrConfiguration marks an out-of-range setting. The update is rejected.
	ErrConfiguration = errors.New("configuration error")

	// ErrNotFound is returned by registries and repositories for unknown keys.
	ErrNotFound = errors.New("not found")
)
