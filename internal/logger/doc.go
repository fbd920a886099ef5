// Package logger wraps zap for the daemon:
//   - a global sugared logger with a compact console encoder,
//   - context helpers (ToContext/FromContext/WithName/WithKV/WithFields),
//   - level parsing and runtime level changes,
//   - leveled convenience functions (Infof, ErrorKV, etc.).
//
// Components receive a context and log through the logger stored in it,
// so every line carries the component name.
package logger
