// Package pkg provides shared utilities for the ehcihost driver.
//
// It contains the sentinel errors returned by the scheduler and the
// component-tagged logging helpers used throughout the driver. Logging is
// built on [log/slog] and is safe for concurrent use; the interrupt-context
// code paths log only at debug level so that a default-configured logger
// never blocks interrupt dispatch on I/O.
package pkg
