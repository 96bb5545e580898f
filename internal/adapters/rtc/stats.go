package rtc

import (
	"context"
	"time"

	"github.com/ArduinoAndWebRTC/webrtc/internal/core"
	"github.com/ArduinoAndWebRTC/webrtc/internal/domain"
	"github.com/pion/webrtc/v4"
)

const DefaultStatsInterval = time.Second

func summarize(report webrtc.StatsReport, at time.Time) domain.StatsReport {
	out := domain.StatsReport{Timestamp: at, Entries: len(report)}
	for _, s := range report {
		switch st := s.(type) {
		case webrtc.TransportStats:
			out.BytesSent += st.BytesSent
			out.BytesReceived += st.BytesReceived
			out.PacketsSent += st.PacketsSent
			out.PacketsRecv += st.PacketsReceived
		case webrtc.ICECandidatePairStats:
			if st.Nominated && st.CurrentRoundTripTime > 0 {
				out.RoundTrip = time.Duration(st.CurrentRoundTripTime * float64(time.Second))
			}
		}
	}
	return out
}

// StartStatsPolling replaces any running poller. Cancellation is a request:
// one report already being collected may still be delivered.
func (s *Session) StartStatsPolling(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultStatsInterval
	}

	s.mu.Lock()
	if s.statsCancel != nil {
		s.statsCancel()
		s.statsCancel = nil
	}
	pc := s.pc
	if pc == nil || s.closed.Load() {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.statsCancel = cancel
	s.mu.Unlock()

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				report := summarize(pc.GetStats(), now)
				report.InboundRTP, report.InboundLost = s.inbound.snapshot()
				s.emit(func(ev core.MediaEvents) { ev.OnStatsReady(report) })
			}
		}
	}()
}

func (s *Session) StopStatsPolling() {
	s.mu.Lock()
	cancel := s.statsCancel
	s.statsCancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
