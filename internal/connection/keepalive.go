package connection

import (
	"context"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/fluxion-chat/internal/protocol"
)

// keepalive pings the backend and drops the connection when nothing has been
// received within the timeout. Any inbound frame counts as liveness.
func (m *Manager) keepalive(ctx context.Context, conn *websocket.Conn) {
	interval, timeout := m.opts.KeepaliveInterval, m.opts.KeepaliveTimeout
	tick := interval
	if tick <= 0 {
		tick = timeout / 2
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	ping, err := protocol.EncodePing()
	if err != nil {
		m.logger.Error("Failed to encode ping", "error", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if timeout > 0 {
				idle := time.Since(time.Unix(0, m.lastSeen.Load()))
				if idle > timeout {
					m.logger.Warn("Agent connection idle, dropping", "idle", idle, "timeout", timeout)
					_ = conn.CloseNow()
					return
				}
			}
			if interval > 0 {
				if err := m.write(ctx, conn, ping, "ping"); err != nil {
					m.logger.Debug("Keepalive ping failed", "error", err)
					return
				}
			}
		}
	}
}
