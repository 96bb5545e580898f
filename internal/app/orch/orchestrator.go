// Package orch runs one call: it owns the signaling channel and the media session and
// applies their events, and the caller's commands, one at a time on a single goroutine.
package orch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ArduinoAndWebRTC/webrtc/internal/core"
	"github.com/ArduinoAndWebRTC/webrtc/internal/domain"
	"github.com/ArduinoAndWebRTC/webrtc/internal/metrics"
	"github.com/rs/zerolog/log"
)

const DefaultStatsInterval = time.Second

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseSignalingConnecting
	PhaseSignalingConnected
	PhaseNegotiating
	PhaseIceConnected
	PhaseActive
	PhaseDisconnecting
	PhaseTerminated
	PhaseErrored
)

var phaseNames = [...]string{
	"idle", "signaling_connecting", "signaling_connected", "negotiating",
	"ice_connected", "active", "disconnecting", "terminated", "errored",
}

func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Terminal phases accept no further transitions.
func (p Phase) Terminal() bool { return p == PhaseTerminated || p == PhaseErrored }

// State is a snapshot of the call session.
type State struct {
	Phase        Phase
	Role         domain.SessionRole
	IceConnected bool
	Errored      bool
	StartedAt    time.Time
}

type (
	SignalingFactory func(core.SignalingEvents) core.SignalingChannel
	MediaFactory     func(core.MediaEvents) core.MediaSession
)

// ControlPath receives the data channel once the call is active and loses it on teardown.
type ControlPath interface {
	Attach(core.DataChannel)
	Detach()
}

type Options struct {
	StatsInterval time.Duration
	// VideoMaxBitrate in kbps; <= 0 leaves the bitrate unconstrained.
	VideoMaxBitrate int
	Control         ControlPath

	// Callbacks run on the orchestrator goroutine and must not block.
	OnState   func(State)
	OnStats   func(domain.StatsReport)
	OnFailure func(error)
}

type Orchestrator struct {
	opts         Options
	newSignaling SignalingFactory
	newMedia     MediaFactory
	now          func() time.Time

	started  atomic.Bool
	snapshot atomic.Pointer[State]

	mu      sync.Mutex
	queue   []func()
	notify  chan struct{}
	stopped chan struct{}
	done    chan struct{}

	// Everything below is touched only by the run goroutine.
	st                 State
	signaling          core.SignalingChannel
	media              core.MediaSession
	offerRequested     bool
	answerRequested    bool
	offerSent          bool
	answerSent         bool
	micEnabled         bool
	tornDown           bool
	err                error
	stopContextWatcher func() bool
}

func New(newSignaling SignalingFactory, newMedia MediaFactory, opts Options) *Orchestrator {
	if opts.StatsInterval <= 0 {
		opts.StatsInterval = DefaultStatsInterval
	}
	o := &Orchestrator{
		opts:         opts,
		newSignaling: newSignaling,
		newMedia:     newMedia,
		now:          time.Now,
		notify:       make(chan struct{}, 1),
		stopped:      make(chan struct{}),
		done:         make(chan struct{}),
		micEnabled:   true,
	}
	o.snapshot.Store(&State{Phase: PhaseIdle})
	return o
}

// StartCall validates room and starts joining it. Cancelling ctx hangs up.
func (o *Orchestrator) StartCall(ctx context.Context, room domain.RoomIdentity) error {
	if err := room.Validate(); err != nil {
		return fmt.Errorf("start call: %w", err)
	}
	if !o.started.CompareAndSwap(false, true) {
		return domain.ErrAlreadyStarted
	}
	o.st.StartedAt = o.now()
	o.signaling = o.newSignaling(signalingEvents{o})
	o.stopContextWatcher = context.AfterFunc(ctx, o.Hangup)
	go o.run()

	o.post(func() {
		o.transition(PhaseSignalingConnecting)
		log.Info().Str("module", "orch").Str("room", room.RoomID).Str("room_url", room.RoomURL).
			Bool("loopback", room.Loopback).Msg("connecting to room")
		o.signaling.ConnectToRoom(ctx, room)
	})
	return nil
}

// Hangup ends the call from any non-terminal phase. Before StartCall it
// simply terminates the orchestrator.
func (o *Orchestrator) Hangup() {
	if o.started.CompareAndSwap(false, true) {
		o.st.Phase = PhaseTerminated
		o.publish()
		close(o.stopped)
		close(o.done)
		return
	}
	o.post(func() { o.disconnect("hangup") })
}

// ReportError fails the call with err. Only the first error counts.
func (o *Orchestrator) ReportError(err error) {
	o.post(func() { o.fail(err) })
}

func (o *Orchestrator) ToggleMic() {
	o.post(func() {
		if o.media == nil {
			return
		}
		o.micEnabled = !o.micEnabled
		o.media.SetAudioEnabled(o.micEnabled)
		log.Info().Str("module", "orch").Bool("mic", o.micEnabled).Msg("microphone toggled")
	})
}

func (o *Orchestrator) SwitchCamera() {
	o.post(func() {
		if o.media == nil {
			return
		}
		if err := o.media.SwitchCaptureSource(); err != nil {
			log.Warn().Err(err).Str("module", "orch").Msg("switch camera")
		}
	})
}

func (o *Orchestrator) PauseVideo() {
	o.post(func() {
		if o.media != nil {
			o.media.StopVideoSource()
		}
	})
}

func (o *Orchestrator) ResumeVideo() {
	o.post(func() {
		if o.media == nil {
			return
		}
		if err := o.media.StartVideoSource(); err != nil {
			log.Warn().Err(err).Str("module", "orch").Msg("resume video")
		}
	})
}

func (o *Orchestrator) State() State { return *o.snapshot.Load() }

// Done is closed once the call reached Terminated or Errored and both
// collaborators were told to shut down. The signaling channel may still be
// leaving the room at that point.
func (o *Orchestrator) Done() <-chan struct{} { return o.done }

// Err returns the error that failed the call, or nil. It is only meaningful after Done.
func (o *Orchestrator) Err() error {
	select {
	case <-o.done:
		return o.err
	default:
		return nil
	}
}

// post queues fn for the run goroutine. It never blocks; after the call
// ended, fn is dropped.
func (o *Orchestrator) post(fn func()) {
	select {
	case <-o.stopped:
		return
	default:
	}
	o.mu.Lock()
	o.queue = append(o.queue, fn)
	o.mu.Unlock()
	select {
	case o.notify <- struct{}{}:
	default:
	}
}

func (o *Orchestrator) pop() (func(), bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.queue) == 0 {
		return nil, false
	}
	fn := o.queue[0]
	o.queue[0] = nil
	o.queue = o.queue[1:]
	return fn, true
}

func (o *Orchestrator) run() {
	defer close(o.done)
	defer func() {
		if o.stopContextWatcher != nil {
			o.stopContextWatcher()
		}
	}()
	for {
		select {
		case <-o.notify:
		case <-o.stopped:
			return
		}
		for {
			fn, ok := o.pop()
			if !ok {
				break
			}
			fn()
			if o.st.Phase.Terminal() {
				return
			}
		}
	}
}

func (o *Orchestrator) publish() {
	s := o.st
	o.snapshot.Store(&s)
}

func (o *Orchestrator) transition(p Phase) {
	from := o.st.Phase
	o.st.Phase = p
	o.publish()
	metrics.PhaseTransitions.WithLabelValues(p.String()).Inc()
	log.Info().Str("module", "orch").Str("from", from.String()).Str("phase", p.String()).
		Dur("call_duration", o.now().Sub(o.st.StartedAt)).Msg("phase transition")
	if p.Terminal() {
		close(o.stopped)
	}
	if o.opts.OnState != nil {
		o.opts.OnState(o.st)
	}
}

// teardown releases both collaborators once.
func (o *Orchestrator) teardown() {
	if o.tornDown {
		return
	}
	o.tornDown = true
	if o.opts.Control != nil {
		o.opts.Control.Detach()
	}
	if o.media != nil {
		o.media.StopStatsPolling()
	}
	if o.signaling != nil {
		o.signaling.DisconnectFromRoom()
	}
	if o.media != nil {
		o.media.Close()
	}
}

func (o *Orchestrator) disconnect(reason string) {
	if o.st.Phase.Terminal() {
		return
	}
	log.Info().Str("module", "orch").Str("reason", reason).Msg("disconnecting")
	o.st.IceConnected = false
	o.transition(PhaseDisconnecting)
	o.teardown()
	o.transition(PhaseTerminated)
}

// fail is the single error entry point: first error wins, collaborators are
// torn down before anyone is told.
func (o *Orchestrator) fail(err error) {
	if o.st.Errored || o.st.Phase.Terminal() {
		log.Debug().Err(err).Str("module", "orch").Msg("error after call ended, ignoring")
		return
	}
	o.st.Errored = true
	o.st.IceConnected = false
	o.err = err
	o.teardown()
	metrics.CallFailures.WithLabelValues(errorKind(err)).Inc()
	log.Error().Err(err).Str("module", "orch").Str("phase", o.st.Phase.String()).Msg("call failed")
	o.transition(PhaseErrored)
	if o.opts.OnFailure != nil {
		o.opts.OnFailure(err)
	}
}

var taxonomy = []struct {
	err  error
	kind string
}{
	{domain.ErrProtocol, "protocol"},
	{domain.ErrDescription, "description"},
	{domain.ErrTransport, "transport"},
	{domain.ErrInvalidSequencing, "sequencing"},
}

func errorKind(err error) string {
	for _, t := range taxonomy {
		if errors.Is(err, t.err) {
			return t.kind
		}
	}
	return "other"
}

// classify keeps errors already in the taxonomy and files everything else under fallback.
func classify(err, fallback error) error {
	if errorKind(err) != "other" {
		return err
	}
	return fmt.Errorf("%w: %v", fallback, err)
}
