// Package logging provides a simple leveled logging interface for the
// photo library service and CLI.
//
// It supports the following log levels:
//   - DEBUG: Verbose debugging information
//   - INFO: General operational messages
//   - WARN: Warning conditions
//   - ERROR: Error conditions
//   - FATAL: Fatal errors that terminate the application
//
// The level comes from DEBUG or LOG_LEVEL and can be overridden at runtime
// with SetLevel (the CLI does this for --log-level).
package logging
