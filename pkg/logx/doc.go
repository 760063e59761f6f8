// Package logx is the structured logging layer: a value-type Logger over
// zerolog with typed field helpers, plus a Service whose console and JSON
// file sinks can be re-applied when the config reloads.
package logx
