package orch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ArduinoAndWebRTC/webrtc/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	room    = domain.RoomIdentity{RoomURL: "http://rooms.test", RoomID: "12345"}
	servers = []domain.IceServer{{URLs: []string{"stun:stun.example.org"}}}
	offer   = domain.SessionDescription{Type: domain.SDPOffer, SDP: "v=0 offer"}
	answer  = domain.SessionDescription{Type: domain.SDPAnswer, SDP: "v=0 answer"}
	cand    = domain.IceCandidate{SDPMid: "0", Candidate: "candidate:1"}
)

func waitDone(t *testing.T, o *Orchestrator) {
	t.Helper()
	select {
	case <-o.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("orchestrator did not finish")
	}
}

func started(t *testing.T, opts Options) *harness {
	t.Helper()
	h := newHarness(opts)
	require.NoError(t, h.o.StartCall(context.Background(), room))
	h.sync()
	return h
}

func TestStartCallRejectsInvalidRoom(t *testing.T) {
	h := newHarness(Options{})
	err := h.o.StartCall(context.Background(), domain.RoomIdentity{RoomURL: room.RoomURL})
	assert.ErrorIs(t, err, domain.ErrInvalidRoomID)
	assert.Equal(t, PhaseIdle, h.o.State().Phase)
	assert.Nil(t, h.sig.events, "signaling never created")
	assert.Empty(t, h.seen())

	require.NoError(t, h.o.StartCall(context.Background(), room))
	assert.ErrorIs(t, h.o.StartCall(context.Background(), room), domain.ErrAlreadyStarted)
	h.o.Hangup()
	waitDone(t, h.o)
}

func TestInitiatorEndToEnd(t *testing.T) {
	h := started(t, Options{StatsInterval: 50 * time.Millisecond, VideoMaxBitrate: 1700})
	assert.Equal(t, 1, h.sig.connects)

	h.sig.events.OnConnectedToRoom(domain.SignalingParameters{Role: domain.RoleInitiator, IceServers: servers})
	h.sync()
	assert.Equal(t, servers, h.media.iceServers)
	assert.Equal(t, 1, h.media.offers)
	assert.Equal(t, 0, h.media.answers)

	h.media.events.OnLocalDescription(offer)
	h.media.events.OnIceCandidate(cand)
	h.sync()
	offers, answers, _ := h.sig.counts()
	assert.Equal(t, 1, offers)
	assert.Equal(t, []domain.IceCandidate{cand}, h.sig.candidates)
	assert.Equal(t, []int{1700}, h.media.bitrates)

	h.sig.events.OnRemoteDescription(answer)
	h.sync()
	assert.Equal(t, []domain.SessionDescription{answer}, h.media.remotes)
	assert.Equal(t, 0, h.media.answers, "initiator never answers")
	_, answers, _ = h.sig.counts()
	assert.Equal(t, 0, answers)

	h.media.events.OnIceConnected()
	h.sync()

	assert.Equal(t, []Phase{
		PhaseSignalingConnecting,
		PhaseSignalingConnected,
		PhaseNegotiating,
		PhaseIceConnected,
		PhaseActive,
	}, h.seen())
	st := h.o.State()
	assert.Equal(t, PhaseActive, st.Phase)
	assert.True(t, st.IceConnected)
	assert.Equal(t, domain.RoleInitiator, st.Role)
	assert.Equal(t, []time.Duration{50 * time.Millisecond}, h.media.statsStarts)
	assert.Equal(t, 1, h.control.attached)
}

func TestSingleOfferEvenIfDescriptionRepeats(t *testing.T) {
	h := started(t, Options{})
	h.sig.events.OnConnectedToRoom(domain.SignalingParameters{Role: domain.RoleInitiator})
	h.media.events.OnLocalDescription(offer)
	h.media.events.OnLocalDescription(offer)
	h.sync()
	offers, _, _ := h.sig.counts()
	assert.Equal(t, 1, offers)
	assert.Equal(t, 1, h.media.offers)
	assert.Empty(t, h.media.bitrates, "no cap configured")
}

func TestResponderAnswersOnce(t *testing.T) {
	tests := []struct {
		name   string
		params domain.SignalingParameters
		later  bool
	}{
		{
			name:   "offer in join parameters",
			params: domain.SignalingParameters{Role: domain.RoleResponder, OfferSDP: &offer, IceCandidates: []domain.IceCandidate{cand}},
		},
		{
			name:   "offer arrives later",
			params: domain.SignalingParameters{Role: domain.RoleResponder},
			later:  true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := started(t, Options{})
			h.sig.events.OnConnectedToRoom(tt.params)
			h.sync()
			if tt.later {
				assert.Equal(t, 0, h.media.answers, "waits for the remote offer")
				assert.Equal(t, PhaseNegotiating, h.o.State().Phase)
				h.sig.events.OnRemoteDescription(offer)
				h.sync()
			} else {
				assert.Equal(t, []domain.IceCandidate{cand}, h.media.added, "initial candidates applied after the answer")
			}
			assert.Equal(t, []domain.SessionDescription{offer}, h.media.remotes)
			assert.Equal(t, 1, h.media.answers)
			assert.Equal(t, 0, h.media.offers)

			h.media.events.OnLocalDescription(answer)
			h.media.events.OnLocalDescription(answer)
			h.sync()
			offers, answers, _ := h.sig.counts()
			assert.Equal(t, 0, offers)
			assert.Equal(t, 1, answers)
		})
	}
}

func TestCandidatesBeforeMediaAreDiscarded(t *testing.T) {
	h := started(t, Options{})
	for i := 0; i < 5; i++ {
		h.sig.events.OnRemoteIceCandidate(cand)
		h.sig.events.OnRemoteIceCandidatesRemoved([]domain.IceCandidate{cand})
	}
	h.sync()
	assert.Equal(t, PhaseSignalingConnecting, h.o.State().Phase)

	h.sig.events.OnConnectedToRoom(domain.SignalingParameters{Role: domain.RoleInitiator})
	h.sync()
	assert.Empty(t, h.media.added)
	assert.Empty(t, h.media.removed)

	h.sig.events.OnRemoteIceCandidate(cand)
	h.sig.events.OnRemoteIceCandidatesRemoved([]domain.IceCandidate{cand})
	h.sync()
	assert.Equal(t, []domain.IceCandidate{cand}, h.media.added)
	assert.Equal(t, []domain.IceCandidate{cand}, h.media.removed)
}

func TestConcurrentReportErrorTearsDownOnce(t *testing.T) {
	var failures []error
	var mu sync.Mutex
	h := started(t, Options{OnFailure: func(err error) {
		mu.Lock()
		failures = append(failures, err)
		mu.Unlock()
	}})
	h.sig.events.OnConnectedToRoom(domain.SignalingParameters{Role: domain.RoleInitiator})
	h.sync()

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			if i%2 == 0 {
				h.o.ReportError(errors.New("boom"))
			} else {
				h.sig.events.OnChannelError("socket reset")
			}
		}(i)
	}
	close(start)
	wg.Wait()
	waitDone(t, h.o)

	assert.Equal(t, 1, h.media.closeCount())
	_, _, disconnects := h.sig.counts()
	assert.Equal(t, 1, disconnects)
	assert.Equal(t, 1, h.media.statsStops)
	assert.Len(t, failures, 1)
	assert.Error(t, h.o.Err())
	assert.Equal(t, PhaseErrored, h.o.State().Phase)
	assert.True(t, h.o.State().Errored)
}

func TestChannelCloseWhileActive(t *testing.T) {
	h := started(t, Options{})
	h.sig.events.OnConnectedToRoom(domain.SignalingParameters{Role: domain.RoleInitiator})
	h.media.events.OnLocalDescription(offer)
	h.sig.events.OnRemoteDescription(answer)
	h.media.events.OnIceConnected()
	h.sync()
	require.Equal(t, PhaseActive, h.o.State().Phase)

	h.sig.events.OnChannelClose()
	waitDone(t, h.o)

	assert.Equal(t, PhaseTerminated, h.o.State().Phase)
	assert.False(t, h.o.State().IceConnected)
	assert.Equal(t, 1, h.media.closeCount())
	_, _, disconnects := h.sig.counts()
	assert.Equal(t, 1, disconnects)
	assert.Equal(t, 1, h.control.detached)
	assert.NoError(t, h.o.Err())

	seen := h.seen()
	assert.Equal(t, []Phase{PhaseDisconnecting, PhaseTerminated}, seen[len(seen)-2:])

	// Terminal: nothing else happens.
	h.o.Hangup()
	h.sig.events.OnChannelError("late")
	h.media.events.OnStatsReady(domain.StatsReport{})
	assert.Equal(t, PhaseTerminated, h.o.State().Phase)
	assert.Equal(t, 1, h.media.closeCount())
}

func TestIceDisconnectedTerminates(t *testing.T) {
	h := started(t, Options{})
	h.sig.events.OnConnectedToRoom(domain.SignalingParameters{Role: domain.RoleInitiator})
	h.media.events.OnIceDisconnected()
	h.sync()
	assert.Equal(t, PhaseNegotiating, h.o.State().Phase, "ignored before ice connected")

	h.media.events.OnIceConnected()
	h.media.events.OnIceDisconnected()
	waitDone(t, h.o)
	assert.Equal(t, PhaseTerminated, h.o.State().Phase)
}

func TestRemoteDescriptionWithoutMediaIsProtocolError(t *testing.T) {
	h := started(t, Options{})
	h.sig.events.OnRemoteDescription(offer)
	waitDone(t, h.o)
	assert.ErrorIs(t, h.o.Err(), domain.ErrProtocol)
	assert.Equal(t, PhaseErrored, h.o.State().Phase)
	assert.Equal(t, 0, h.mediaMade())
	_, _, disconnects := h.sig.counts()
	assert.Equal(t, 1, disconnects)
}

func TestWrongDescriptionTypeIsProtocolError(t *testing.T) {
	h := started(t, Options{})
	h.sig.events.OnConnectedToRoom(domain.SignalingParameters{Role: domain.RoleInitiator})
	h.sig.events.OnRemoteDescription(offer)
	waitDone(t, h.o)
	assert.ErrorIs(t, h.o.Err(), domain.ErrProtocol)
}

func TestDescriptionErrorFromMedia(t *testing.T) {
	h := started(t, Options{})
	h.media.remoteErr = domain.ErrDescription
	h.sig.events.OnConnectedToRoom(domain.SignalingParameters{Role: domain.RoleResponder, OfferSDP: &offer})
	waitDone(t, h.o)
	assert.ErrorIs(t, h.o.Err(), domain.ErrDescription)
	assert.Equal(t, 0, h.media.answers)
	assert.Equal(t, 1, h.media.closeCount())
}

func TestPeerConnectionFailure(t *testing.T) {
	h := started(t, Options{})
	h.media.createErr = errors.New("no api")
	h.sig.events.OnConnectedToRoom(domain.SignalingParameters{Role: domain.RoleInitiator})
	waitDone(t, h.o)
	assert.ErrorIs(t, h.o.Err(), domain.ErrTransport)
	assert.Equal(t, 0, h.media.offers)
}

func TestErroredIsAbsorbing(t *testing.T) {
	h := started(t, Options{})
	h.sig.events.OnConnectedToRoom(domain.SignalingParameters{Role: domain.RoleInitiator})
	h.media.events.OnPeerConnectionError("ice failed")
	waitDone(t, h.o)
	require.ErrorIs(t, h.o.Err(), domain.ErrTransport)

	h.sig.events.OnChannelClose()
	h.o.Hangup()
	assert.Equal(t, PhaseErrored, h.o.State().Phase)
	assert.NotContains(t, h.seen(), PhaseTerminated)
}

func TestHangupTearsDown(t *testing.T) {
	h := started(t, Options{})
	h.sig.events.OnConnectedToRoom(domain.SignalingParameters{Role: domain.RoleResponder})
	h.o.Hangup()
	h.o.Hangup()
	waitDone(t, h.o)
	assert.Equal(t, PhaseTerminated, h.o.State().Phase)
	assert.Equal(t, 1, h.media.closeCount())
	_, _, disconnects := h.sig.counts()
	assert.Equal(t, 1, disconnects)
}

func TestHangupBeforeStart(t *testing.T) {
	h := newHarness(Options{})
	h.o.Hangup()
	waitDone(t, h.o)
	assert.Equal(t, PhaseTerminated, h.o.State().Phase)
	assert.ErrorIs(t, h.o.StartCall(context.Background(), room), domain.ErrAlreadyStarted)
}

func TestContextCancelHangsUp(t *testing.T) {
	h := newHarness(Options{})
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, h.o.StartCall(ctx, room))
	cancel()
	waitDone(t, h.o)
	assert.Equal(t, PhaseTerminated, h.o.State().Phase)
}

func TestCaptureCommandsAndStats(t *testing.T) {
	var reports []domain.StatsReport
	h := started(t, Options{OnStats: func(r domain.StatsReport) { reports = append(reports, r) }})

	h.o.ToggleMic()
	h.sync()
	assert.Empty(t, h.media.audio, "no media session yet")

	h.sig.events.OnConnectedToRoom(domain.SignalingParameters{Role: domain.RoleInitiator})
	h.o.ToggleMic()
	h.o.ToggleMic()
	h.o.SwitchCamera()
	h.o.PauseVideo()
	h.o.ResumeVideo()
	h.media.events.OnStatsReady(domain.StatsReport{RoundTrip: 20 * time.Millisecond})
	h.media.events.OnIceCandidatesRemoved([]domain.IceCandidate{cand})
	h.sync()

	assert.Equal(t, []bool{false, true}, h.media.audio)
	assert.Equal(t, 1, h.media.switches)
	assert.Equal(t, 1, h.media.videoStops)
	assert.Equal(t, 1, h.media.videoStarts)
	require.Len(t, reports, 1)
	assert.Equal(t, 20*time.Millisecond, reports[0].RoundTrip)
	assert.Equal(t, [][]domain.IceCandidate{{cand}}, h.sig.removals)
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, "protocol", errorKind(domain.ErrProtocol))
	assert.Equal(t, "other", errorKind(errors.New("x")))
	assert.ErrorIs(t, classify(errors.New("x"), domain.ErrTransport), domain.ErrTransport)
	wrapped := classify(domain.ErrDescription, domain.ErrTransport)
	assert.ErrorIs(t, wrapped, domain.ErrDescription)
	assert.NotErrorIs(t, wrapped, domain.ErrTransport)
	assert.Equal(t, "errored", PhaseErrored.String())
}
