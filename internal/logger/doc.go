// Package logger wraps zap to offer:
//   - a shared sugared logger with a console encoder,
//   - context helpers (ToContext/FromContext/WithName/WithKV),
//   - level parsing for the --log-level flag,
//   - leveled convenience functions (Info, InfoKV, ErrorKV, ...).
//
// Pipeline stages receive a context and log through the logger stored in it,
// so every line carries the stage name it was produced by.
package logger
