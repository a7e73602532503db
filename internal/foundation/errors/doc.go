// Package errors provides classified error primitives used across the worker
// runtime and its host.
//
// Key features:
//   - ErrorCategory: broad classification (registration, session, action, linkage, ...)
//   - ErrorSeverity: impact level
//   - RetryStrategy: retry behavior, including RetryNewWorker for faults that
//     require a fresh worker process
//   - ErrorBuilder: fluent API for creating classified errors
//   - CLIErrorAdapter: exit codes and presentation for the command line
//
// Example usage:
//
//	err := errors.LinkageError("symbol not visible").
//		WithContext("symbol", name).
//		WithCause(cause).
//		Build()
package errors
