package ws

import (
	"time"

	"github.com/gobwas/ws"
	"go.uber.org/zap"
)

// HeartbeatConfig holds heartbeat tuning parameters.
type HeartbeatConfig struct {
	Interval time.Duration // how often to ping (default: 30s)
	Timeout  time.Duration // max time to wait for activity after ping (default: 10s)
}

// DefaultHeartbeatConfig returns the default heartbeat settings.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Interval: 30 * time.Second,
		Timeout:  10 * time.Second,
	}
}

// startHeartbeat pings every connection each Interval and evicts those with
// no frame received within Interval + Timeout. It stops when the server is
// shut down.
func (s *Server) startHeartbeat(config HeartbeatConfig) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.done:
				return
			case <-ticker.C:
				s.checkConnections(config, time.Now())
			}
		}
	}()
}

func (s *Server) checkConnections(config HeartbeatConfig, now time.Time) {
	deadline := config.Interval + config.Timeout

	for _, c := range s.conns.All() {
		if idle := now.Sub(c.LastSeen()); idle > deadline {
			s.log.Info("heartbeat timeout",
				zap.String("conn", c.ID),
				zap.Duration("idle", idle.Round(time.Second)),
			)
			s.RemoveConnection(c)
			continue
		}

		// Browsers answer protocol-level pings automatically.
		if err := c.writeFrame(ws.NewPingFrame(nil)); err != nil {
			s.log.Debug("heartbeat ping failed", zap.String("conn", c.ID), zap.Error(err))
			s.RemoveConnection(c)
		}
	}
}
