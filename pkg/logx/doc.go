// Package logx is a small structured-logging facade over zerolog.
//
// Components take a logx.Logger by value and derive scoped loggers with
// With(). The zero value is a safe no-op logger, so optional components
// never have to nil-check.
//
// Operational logs go to stderr (and optionally a file). The interactive
// trace lines the scheduler prints for users are NOT logs; those are
// written to stdout by the tracer and never pass through this package.
package logx
