package rtc

import (
	"sync"
	"testing"
	"time"

	"github.com/ArduinoAndWebRTC/webrtc/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu          sync.Mutex
	local       chan domain.SessionDescription
	connected   chan struct{}
	stats       chan domain.StatsReport
	errors      []string
	closed      int
	onCandidate func(domain.IceCandidate)
}

func newRecorder() *recorder {
	return &recorder{
		local:     make(chan domain.SessionDescription, 2),
		connected: make(chan struct{}, 4),
		stats:     make(chan domain.StatsReport, 16),
	}
}

func (r *recorder) OnLocalDescription(sd domain.SessionDescription) { r.local <- sd }

func (r *recorder) OnIceCandidate(c domain.IceCandidate) {
	r.mu.Lock()
	fn := r.onCandidate
	r.mu.Unlock()
	if fn != nil {
		fn(c)
	}
}

func (r *recorder) OnIceCandidatesRemoved([]domain.IceCandidate) {}
func (r *recorder) OnIceConnected()                              { r.connected <- struct{}{} }
func (r *recorder) OnIceDisconnected()                           {}

func (r *recorder) OnPeerConnectionClosed() {
	r.mu.Lock()
	r.closed++
	r.mu.Unlock()
}

func (r *recorder) OnStatsReady(s domain.StatsReport) {
	select {
	case r.stats <- s:
	default:
	}
}

func (r *recorder) OnPeerConnectionError(msg string) {
	r.mu.Lock()
	r.errors = append(r.errors, msg)
	r.mu.Unlock()
}

func (r *recorder) closedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func waitLocal(t *testing.T, r *recorder) domain.SessionDescription {
	t.Helper()
	select {
	case sd := <-r.local:
		return sd
	case <-time.After(5 * time.Second):
		t.Fatal("no local description")
	}
	return domain.SessionDescription{}
}

func TestLoopbackNegotiationAndControlChannel(t *testing.T) {
	ra, rb := newRecorder(), newRecorder()
	a := NewSession(Config{AudioCodec: "opus"}, ra)
	b := NewSession(Config{AudioCodec: "pcmu"}, rb)
	defer a.Close()
	defer b.Close()

	require.NoError(t, a.CreatePeerConnection(nil))
	require.NoError(t, b.CreatePeerConnection(nil))

	ra.mu.Lock()
	ra.onCandidate = b.AddRemoteIceCandidate
	ra.mu.Unlock()
	rb.mu.Lock()
	rb.onCandidate = a.AddRemoteIceCandidate
	rb.mu.Unlock()

	require.NoError(t, a.CreateOffer())
	offer := waitLocal(t, ra)
	assert.Equal(t, domain.SDPOffer, offer.Type)

	require.NoError(t, b.SetRemoteDescription(offer))
	require.NoError(t, b.CreateAnswer())
	answer := waitLocal(t, rb)
	assert.Equal(t, domain.SDPAnswer, answer.Type)
	require.NoError(t, a.SetRemoteDescription(answer))

	for _, r := range []*recorder{ra, rb} {
		select {
		case <-r.connected:
		case <-time.After(10 * time.Second):
			t.Fatal("ICE did not connect")
		}
	}

	got := make(chan []byte, 4)
	b.DataChannel().OnMessage(func(p []byte) { got <- p })
	require.Eventually(t, func() bool {
		return a.DataChannel().TrySend(domain.Up.Payload())
	}, 5*time.Second, 20*time.Millisecond)

	select {
	case p := <-got:
		assert.Equal(t, []byte("3"), p)
	case <-time.After(5 * time.Second):
		t.Fatal("control payload not received")
	}

	a.StartStatsPolling(50 * time.Millisecond)
	select {
	case s := <-ra.stats:
		assert.Positive(t, s.Entries)
	case <-time.After(5 * time.Second):
		t.Fatal("no stats")
	}
	a.StopStatsPolling()

	a.Close()
	a.Close()
	assert.Equal(t, 1, ra.closedCount())
	assert.False(t, a.DataChannel().TrySend([]byte("0")))
}

func TestSetRemoteDescriptionErrors(t *testing.T) {
	s := NewSession(Config{}, newRecorder())
	defer s.Close()

	err := s.SetRemoteDescription(domain.SessionDescription{Type: domain.SDPOffer, SDP: "v=0"})
	assert.ErrorIs(t, err, domain.ErrProtocol)

	require.NoError(t, s.CreatePeerConnection(nil))
	err = s.SetRemoteDescription(domain.SessionDescription{Type: domain.SDPOffer, SDP: "definitely not sdp"})
	assert.ErrorIs(t, err, domain.ErrDescription)
}

func TestCreateOfferSequencing(t *testing.T) {
	s := NewSession(Config{}, newRecorder())
	defer s.Close()

	assert.ErrorIs(t, s.CreateOffer(), domain.ErrInvalidSequencing)
	require.NoError(t, s.CreatePeerConnection(nil))
	assert.ErrorIs(t, s.CreatePeerConnection(nil), domain.ErrInvalidSequencing)

	// Hold the executor so the first offer stays outstanding.
	release := make(chan struct{})
	s.jobs <- func() { <-release }

	require.NoError(t, s.CreateOffer())
	assert.ErrorIs(t, s.CreateOffer(), domain.ErrInvalidSequencing)
	require.NoError(t, s.CreateAnswer(), "answer creation is tracked separately")
	close(release)
}

func TestCandidatesQueueUntilRemoteDescription(t *testing.T) {
	s := NewSession(Config{}, newRecorder())
	defer s.Close()

	c1 := domain.IceCandidate{SDPMid: "0", Candidate: "candidate:1 1 udp 2130706431 192.0.2.1 5000 typ host"}
	c2 := domain.IceCandidate{SDPMid: "0", Candidate: "candidate:2 1 udp 2130706431 192.0.2.2 5001 typ host"}

	s.AddRemoteIceCandidate(c1)
	assert.Empty(t, s.queued, "no peer connection yet, dropped")

	require.NoError(t, s.CreatePeerConnection(nil))
	s.AddRemoteIceCandidate(c1)
	s.AddRemoteIceCandidate(c2)
	assert.Equal(t, []domain.IceCandidate{c1, c2}, s.queued)

	s.RemoveRemoteIceCandidates([]domain.IceCandidate{c1, {Candidate: "unknown"}})
	assert.Equal(t, []domain.IceCandidate{c2}, s.queued)
	assert.NotContains(t, s.added, c1)
	assert.Contains(t, s.added, c2)
}

func TestMaxBitrateIgnoresNonPositive(t *testing.T) {
	s := NewSession(Config{VideoMaxBitrate: 1000}, newRecorder())
	s.SetMaxBitrate(0)
	s.SetMaxBitrate(-5)
	assert.Equal(t, 1000, s.maxBitrate)
	s.SetMaxBitrate(1700)
	assert.Equal(t, 1700, s.maxBitrate)
}

func TestStatsPollingNotStartedAfterClose(t *testing.T) {
	r := newRecorder()
	s := NewSession(Config{}, r)
	require.NoError(t, s.CreatePeerConnection(nil))

	s.StartStatsPolling(time.Hour)
	s.mu.Lock()
	running := s.statsCancel != nil
	s.mu.Unlock()
	require.True(t, running)

	s.Close()
	s.mu.Lock()
	assert.Nil(t, s.statsCancel, "close stops the poller")
	s.mu.Unlock()

	s.StartStatsPolling(time.Hour)
	s.mu.Lock()
	assert.Nil(t, s.statsCancel)
	s.mu.Unlock()
	assert.Equal(t, 1, r.closedCount(), "close still reported once")
}

func TestSwitchCaptureWithoutCapture(t *testing.T) {
	s := NewSession(Config{VideoCallEnabled: true}, newRecorder())
	defer s.Close()
	require.NoError(t, s.CreatePeerConnection(nil))
	assert.ErrorIs(t, s.SwitchCaptureSource(), ErrNoCapture)
	assert.NoError(t, s.StartVideoSource())
	s.StopVideoSource()
	s.SetAudioEnabled(false)
}

func TestSummarize(t *testing.T) {
	report := webrtc.StatsReport{
		"T1": webrtc.TransportStats{BytesSent: 100, BytesReceived: 40, PacketsSent: 3, PacketsReceived: 2},
		"P1": webrtc.ICECandidatePairStats{Nominated: true, CurrentRoundTripTime: 0.5},
		"P2": webrtc.ICECandidatePairStats{Nominated: false, CurrentRoundTripTime: 1},
	}
	at := time.Unix(10, 0)
	got := summarize(report, at)
	assert.Equal(t, domain.StatsReport{
		Timestamp:     at,
		BytesSent:     100,
		BytesReceived: 40,
		PacketsSent:   3,
		PacketsRecv:   2,
		RoundTrip:     500 * time.Millisecond,
		Entries:       3,
	}, got)
}

func TestCandidateConversion(t *testing.T) {
	c := domain.IceCandidate{SDPMid: "1", SDPMLineIndex: 1, Candidate: "candidate:x"}
	assert.Equal(t, c, fromPionCandidate(toPionCandidate(c)))
	assert.Equal(t, domain.IceCandidate{Candidate: "y"}, fromPionCandidate(webrtc.ICECandidateInit{Candidate: "y"}))

	servers := toPionServers([]domain.IceServer{{URLs: []string{"turn:t"}, Username: "u", Credential: "p"}})
	require.Len(t, servers, 1)
	assert.Equal(t, "p", servers[0].Credential)
}

func TestSeqTrackerCountsGaps(t *testing.T) {
	var tr seqTracker
	pkt := func(seq uint16) *rtp.Packet {
		return &rtp.Packet{Header: rtp.Header{SequenceNumber: seq}}
	}

	assert.Zero(t, tr.observe(pkt(65533)))
	assert.Zero(t, tr.observe(pkt(65534)))
	assert.Equal(t, uint64(2), tr.observe(pkt(1)), "gap across wraparound")
	assert.Zero(t, tr.observe(pkt(1)), "duplicate")
	assert.Zero(t, tr.observe(pkt(0)), "late packet")
	assert.Equal(t, uint64(1), tr.observe(pkt(3)))
}
