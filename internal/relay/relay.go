// Package relay implements the boundary to the browser-automation backend
// that executes forwarded actions. Forwarding is fire-and-forget: the
// coordinator never awaits a result and a relay failure never affects
// session state.
package relay

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/coviewhq/coview/pkg/logger"
)

// LogForwarder is the stand-in backend used when no executor is
// configured; it records forwarded actions and drops them.
type LogForwarder struct {
	log *zap.Logger
}

// NewLogForwarder constructs the logging forwarder.
func NewLogForwarder() *LogForwarder {
	return &LogForwarder{log: logger.WithComponent("relay")}
}

// Forward logs the action and discards it.
func (f *LogForwarder) Forward(action string, data json.RawMessage) {
	f.log.Debug("action forwarded",
		zap.String("action", action),
		zap.Int("payload_bytes", len(data)),
	)
}

// Close satisfies the executor shape; nothing to release.
func (f *LogForwarder) Close() error {
	return nil
}
