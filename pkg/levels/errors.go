package levels

import "errors"

// Sentinel errors for the detection core. Callers classify failures with
// errors.Is; the transport layer maps them to client-visible status codes.
var (
	// ErrInvalidParameter indicates a non-positive window/period or an
	// unsupported timeframe. Rejected before any computation runs.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrInsufficientData indicates the series is shorter than the minimum
	// number of bars the detector needs.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrEmptySeries indicates the upstream provider returned no bars at all.
	ErrEmptySeries = errors.New("empty series")

	// ErrComputation indicates an unexpected numeric failure. Results are
	// all-or-nothing: no partial zone lists are ever returned.
	ErrComputation = errors.New("computation error")
)
