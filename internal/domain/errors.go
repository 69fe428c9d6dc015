package domain

import "errors"

var (
	// ErrDataUnavailable means no history exists for a symbol/range. The
	// simulator skips such symbols instead of failing the run.
	ErrDataUnavailable = errors.New("data unavailable")

	// ErrUnknownIndicator is returned for indicator names outside the
	// supported naming scheme.
	ErrUnknownIndicator = errors.New("unknown indicator")

	// ErrInvalidRule is returned for malformed operators, operands or logic.
	ErrInvalidRule = errors.New("invalid rule")

	// ErrInsufficientHistory means a value is undefined at the requested
	// index, either inside an indicator's warm-up or before the series start.
	ErrInsufficientHistory = errors.New("insufficient history")

	// ErrSimulation marks an unexpected failure that aborts a backtest run.
	ErrSimulation = errors.New("simulation failure")

	// ErrIndexOutOfRange is returned for series lookups outside [0, Len).
	ErrIndexOutOfRange = errors.New("index out of range")

	// ErrNotFound is returned by stores and registries for unknown ids.
	ErrNotFound = errors.New("not found")
)
