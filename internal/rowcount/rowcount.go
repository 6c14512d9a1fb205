// Copyright (c) 2018, Postgres Professional

// Row-count remap adapter, ported from RowCountReceiver.java's
// ROW_COUNT_UNKNOWN/ROW_COUNT_ERROR handling (spec.md §6). The SQL
// front-end reports completion counts with -1=unknown, -2=error; this
// adapter remaps them to the driver-protocol convention
// unknown=-2, error=-3 by decrementing values below zero. The core has
// no SQL front-end of its own to call this, but spec.md §6 calls it out
// as a MUST-preserve adapter anywhere the core reports counts to SQL
// clients, so it lives here as a leaf utility.
package rowcount

const (
	// Front-end-side constants.
	Unknown = -1
	Error   = -2
)

const (
	// Driver-protocol-side constants.
	DriverUnknown = -2
	DriverError   = -3
)

// Remap translates a front-end row count into the driver-protocol
// convention: any value below zero is decremented by one; non-negative
// counts pass through unchanged.
func Remap(count int64) int64 {
	if count < 0 {
		return count - 1
	}
	return count
}
