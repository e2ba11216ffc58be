// Package logx configures ideinfo's structured logging.
//
// A thin Logger value wraps zerolog so components can carry fixed fields
// (comp=engine, script=.info50, ...) without importing zerolog directly.
// Console output is human readable with a short caller; the optional file
// sink is JSON.
package logx
