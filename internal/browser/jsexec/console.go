// internal/browser/jsexec/console.go
package jsexec

import (
	"go.uber.org/zap"
)

// consolePrinter routes console output from action scripts to the logger.
// Plain logs stay at debug so they never interleave with results.
type consolePrinter struct {
	logger *zap.Logger
}

func (p *consolePrinter) Log(msg string)   { p.logger.Debug(msg, zap.String("level", "log")) }
func (p *consolePrinter) Warn(msg string)  { p.logger.Warn(msg) }
func (p *consolePrinter) Error(msg string) { p.logger.Error(msg) }
