package orch

import (
	"context"
	"sync"
	"time"

	"github.com/ArduinoAndWebRTC/webrtc/internal/core"
	"github.com/ArduinoAndWebRTC/webrtc/internal/domain"
)

type fakeSignaling struct {
	mu          sync.Mutex
	events      core.SignalingEvents
	connects    int
	offers      []domain.SessionDescription
	answers     []domain.SessionDescription
	candidates  []domain.IceCandidate
	removals    [][]domain.IceCandidate
	disconnects int
}

func (f *fakeSignaling) ConnectToRoom(context.Context, domain.RoomIdentity) {
	f.mu.Lock()
	f.connects++
	f.mu.Unlock()
}

func (f *fakeSignaling) SendOfferSDP(sd domain.SessionDescription) {
	f.mu.Lock()
	f.offers = append(f.offers, sd)
	f.mu.Unlock()
}

func (f *fakeSignaling) SendAnswerSDP(sd domain.SessionDescription) {
	f.mu.Lock()
	f.answers = append(f.answers, sd)
	f.mu.Unlock()
}

func (f *fakeSignaling) SendLocalIceCandidate(c domain.IceCandidate) {
	f.mu.Lock()
	f.candidates = append(f.candidates, c)
	f.mu.Unlock()
}

func (f *fakeSignaling) SendLocalIceCandidateRemovals(cs []domain.IceCandidate) {
	f.mu.Lock()
	f.removals = append(f.removals, cs)
	f.mu.Unlock()
}

func (f *fakeSignaling) DisconnectFromRoom() {
	f.mu.Lock()
	f.disconnects++
	f.mu.Unlock()
}

func (f *fakeSignaling) counts() (offers, answers, disconnects int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.offers), len(f.answers), f.disconnects
}

type fakeDataChannel struct{}

func (fakeDataChannel) TrySend([]byte) bool    { return true }
func (fakeDataChannel) OnMessage(func([]byte)) {}

type fakeMedia struct {
	mu          sync.Mutex
	events      core.MediaEvents
	iceServers  []domain.IceServer
	createErr   error
	remoteErr   error
	offers      int
	answers     int
	remotes     []domain.SessionDescription
	added       []domain.IceCandidate
	removed     []domain.IceCandidate
	audio       []bool
	switches    int
	videoStops  int
	videoStarts int
	bitrates    []int
	statsStarts []time.Duration
	statsStops  int
	closes      int
}

func (f *fakeMedia) CreatePeerConnection(servers []domain.IceServer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.iceServers = servers
	return f.createErr
}

func (f *fakeMedia) CreateOffer() error {
	f.mu.Lock()
	f.offers++
	f.mu.Unlock()
	return nil
}

func (f *fakeMedia) CreateAnswer() error {
	f.mu.Lock()
	f.answers++
	f.mu.Unlock()
	return nil
}

func (f *fakeMedia) SetRemoteDescription(sd domain.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.remoteErr != nil {
		return f.remoteErr
	}
	f.remotes = append(f.remotes, sd)
	return nil
}

func (f *fakeMedia) AddRemoteIceCandidate(c domain.IceCandidate) {
	f.mu.Lock()
	f.added = append(f.added, c)
	f.mu.Unlock()
}

func (f *fakeMedia) RemoveRemoteIceCandidates(cs []domain.IceCandidate) {
	f.mu.Lock()
	f.removed = append(f.removed, cs...)
	f.mu.Unlock()
}

func (f *fakeMedia) SetAudioEnabled(enabled bool) {
	f.mu.Lock()
	f.audio = append(f.audio, enabled)
	f.mu.Unlock()
}

func (f *fakeMedia) SwitchCaptureSource() error {
	f.mu.Lock()
	f.switches++
	f.mu.Unlock()
	return nil
}

func (f *fakeMedia) StartVideoSource() error {
	f.mu.Lock()
	f.videoStarts++
	f.mu.Unlock()
	return nil
}

func (f *fakeMedia) StopVideoSource() {
	f.mu.Lock()
	f.videoStops++
	f.mu.Unlock()
}

func (f *fakeMedia) SetMaxBitrate(kbps int) {
	f.mu.Lock()
	f.bitrates = append(f.bitrates, kbps)
	f.mu.Unlock()
}

func (f *fakeMedia) StartStatsPolling(d time.Duration) {
	f.mu.Lock()
	f.statsStarts = append(f.statsStarts, d)
	f.mu.Unlock()
}

func (f *fakeMedia) StopStatsPolling() {
	f.mu.Lock()
	f.statsStops++
	f.mu.Unlock()
}

func (f *fakeMedia) DataChannel() core.DataChannel { return fakeDataChannel{} }

// Close reports the closed peer connection like the real session does.
func (f *fakeMedia) Close() {
	f.mu.Lock()
	f.closes++
	ev := f.events
	f.mu.Unlock()
	ev.OnPeerConnectionClosed()
}

func (f *fakeMedia) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

type fakeControl struct {
	mu       sync.Mutex
	attached int
	detached int
}

func (f *fakeControl) Attach(core.DataChannel) {
	f.mu.Lock()
	f.attached++
	f.mu.Unlock()
}

func (f *fakeControl) Detach() {
	f.mu.Lock()
	f.detached++
	f.mu.Unlock()
}

// harness wires an orchestrator to fakes and records every phase it enters.
type harness struct {
	o       *Orchestrator
	sig     *fakeSignaling
	media   *fakeMedia
	control *fakeControl

	mu     sync.Mutex
	phases []Phase
	made   int
}

func newHarness(opts Options) *harness {
	h := &harness{sig: &fakeSignaling{}, media: &fakeMedia{}, control: &fakeControl{}}
	opts.Control = h.control
	opts.OnState = func(s State) {
		h.mu.Lock()
		h.phases = append(h.phases, s.Phase)
		h.mu.Unlock()
	}
	h.o = New(
		func(ev core.SignalingEvents) core.SignalingChannel {
			h.sig.events = ev
			return h.sig
		},
		func(ev core.MediaEvents) core.MediaSession {
			h.mu.Lock()
			h.made++
			h.mu.Unlock()
			h.media.mu.Lock()
			h.media.events = ev
			h.media.mu.Unlock()
			return h.media
		},
		opts,
	)
	return h
}

func (h *harness) seen() []Phase {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Phase(nil), h.phases...)
}

func (h *harness) mediaMade() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.made
}

// sync waits until every event posted so far has been applied.
func (h *harness) sync() {
	done := make(chan struct{})
	h.o.post(func() { close(done) })
	select {
	case <-done:
	case <-h.o.Done():
	case <-time.After(5 * time.Second):
		panic("orchestrator did not drain")
	}
}
