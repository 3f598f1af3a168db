// Package logx configures peerpool's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps console output
// readable (short timestamp and caller) and file output JSON-structured.
// Throttle rate-limits repeated warnings per key.
package logx
