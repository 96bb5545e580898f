// Package rtc implements the media session on top of pion/webrtc.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ArduinoAndWebRTC/webrtc/internal/core"
	"github.com/ArduinoAndWebRTC/webrtc/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var ErrNoCapture = errors.New("no capture source")

type Config struct {
	VideoCallEnabled bool
	// VideoMaxBitrate in kbps; <= 0 leaves the encoder unconstrained.
	VideoMaxBitrate int
	AudioCodec      string
	PionLogLevel    string
	// Capture is optional; without it the session only receives media.
	Capture CaptureSource
}

// Session is a core.MediaSession over one pion PeerConnection.
// Offer and answer creation run on a private executor goroutine and report
// back through core.MediaEvents.
type Session struct {
	cfg    Config
	events core.MediaEvents

	jobs chan func()
	done chan struct{}

	mu            sync.Mutex
	pc            *webrtc.PeerConnection
	dc            *dataChannel
	offerPending  bool
	answerPending bool
	remoteSet     bool
	queued        []domain.IceCandidate
	added         map[domain.IceCandidate]struct{}
	videoSender   *webrtc.RTPSender
	audioSender   *webrtc.RTPSender
	videoTrack    webrtc.TrackLocal
	audioTrack    webrtc.TrackLocal
	audioEnabled  bool
	videoStopped  bool
	maxBitrate    int
	statsCancel   context.CancelFunc
	inbound       inbound

	closeOnce sync.Once
	closed    atomic.Bool
}

var _ core.MediaSession = (*Session)(nil)

func NewSession(cfg Config, events core.MediaEvents) *Session {
	return &Session{
		cfg:          cfg,
		events:       events,
		jobs:         make(chan func(), 8),
		done:         make(chan struct{}),
		added:        make(map[domain.IceCandidate]struct{}),
		audioEnabled: true,
		maxBitrate:   cfg.VideoMaxBitrate,
	}
}

// emit drops events once the session is closed. Close reports the end
// through deliver directly.
func (s *Session) emit(fn func(core.MediaEvents)) {
	if s.closed.Load() {
		return
	}
	s.deliver(fn)
}

func (s *Session) deliver(fn func(core.MediaEvents)) { fn(s.events) }

func (s *Session) enqueue(job func()) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.jobs <- job:
		return true
	case <-s.done:
		return false
	}
}

func (s *Session) executor() {
	for {
		select {
		case <-s.done:
			return
		case job := <-s.jobs:
			job()
		}
	}
}

func (s *Session) CreatePeerConnection(iceServers []domain.IceServer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return fmt.Errorf("%w: session closed", domain.ErrInvalidSequencing)
	}
	if s.pc != nil {
		return fmt.Errorf("%w: peer connection exists", domain.ErrInvalidSequencing)
	}

	api, err := newAPI(s.cfg)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: toPionServers(iceServers)})
	if err != nil {
		return fmt.Errorf("%w: creating peer connection: %v", domain.ErrTransport, err)
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			log.Debug().Str("module", "webrtc").Msg("ICE gathering complete")
			return
		}
		cand := fromPionCandidate(c.ToJSON())
		s.emit(func(ev core.MediaEvents) { ev.OnIceCandidate(cand) })
	})

	pc.OnICEConnectionStateChange(func(st webrtc.ICEConnectionState) {
		log.Info().Str("module", "webrtc").Str("ice_state", st.String()).Msg("ICE state")
		switch st {
		case webrtc.ICEConnectionStateConnected:
			s.emit(func(ev core.MediaEvents) { ev.OnIceConnected() })
		case webrtc.ICEConnectionStateDisconnected:
			s.emit(func(ev core.MediaEvents) { ev.OnIceDisconnected() })
		case webrtc.ICEConnectionStateFailed:
			s.emit(func(ev core.MediaEvents) { ev.OnPeerConnectionError("ICE connection failed") })
		}
	})

	pc.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		log.Info().Str("module", "webrtc").Str("peer_connection_state", st.String()).Msg("Peer state")
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "webrtc").
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("codec", track.Codec().MimeType).
			Msg("OnTrack received")
		logger := log.With().Str("module", "webrtc").Str("track_id", track.ID()).Logger()
		go s.inbound.drain(track, logger)
	})

	dc, err := pc.CreateDataChannel(ControlLabel, controlChannelInit())
	if err != nil {
		_ = pc.Close()
		return fmt.Errorf("%w: creating data channel: %v", domain.ErrTransport, err)
	}

	if err := s.addMedia(pc); err != nil {
		_ = pc.Close()
		return fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}

	s.pc = pc
	s.dc = newDataChannel(dc)
	go s.executor()

	log.Info().Str("module", "webrtc").Int("ice_servers", len(iceServers)).Bool("capture", s.videoSender != nil).Msg("peer connection created")
	return nil
}

// addMedia must be called with s.mu held.
func (s *Session) addMedia(pc *webrtc.PeerConnection) error {
	if s.cfg.VideoCallEnabled && s.cfg.Capture != nil {
		video, audio, err := s.cfg.Capture.Open()
		if err == nil {
			if s.maxBitrate > 0 {
				s.cfg.Capture.SetMaxBitrate(s.maxBitrate)
			}
			if s.videoSender, err = pc.AddTrack(video); err != nil {
				return fmt.Errorf("add video track: %w", err)
			}
			s.videoTrack = video
			go drainRTCP(s.videoSender)
			if audio != nil {
				if s.audioSender, err = pc.AddTrack(audio); err != nil {
					return fmt.Errorf("add audio track: %w", err)
				}
				s.audioTrack = audio
				go drainRTCP(s.audioSender)
			}
			return nil
		}
		log.Warn().Err(err).Str("module", "webrtc").Msg("capture unavailable, receiving only")
	}

	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo,
		webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}); err != nil {
		return fmt.Errorf("add video transceiver: %w", err)
	}
	tr, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio,
		webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly})
	if err != nil {
		return fmt.Errorf("add audio transceiver: %w", err)
	}
	preferAudioCodec(tr, s.cfg.AudioCodec)
	return nil
}

func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func (s *Session) CreateOffer() error {
	return s.createLocal(domain.SDPOffer)
}

func (s *Session) CreateAnswer() error {
	return s.createLocal(domain.SDPAnswer)
}

func (s *Session) createLocal(kind domain.SDPType) error {
	s.mu.Lock()
	pc := s.pc
	if pc == nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s before peer connection", domain.ErrInvalidSequencing, kind)
	}
	pending := &s.offerPending
	if kind == domain.SDPAnswer {
		pending = &s.answerPending
	}
	if *pending {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s already in progress", domain.ErrInvalidSequencing, kind)
	}
	*pending = true
	s.mu.Unlock()

	ok := s.enqueue(func() {
		defer func() {
			s.mu.Lock()
			*pending = false
			s.mu.Unlock()
		}()

		var (
			desc webrtc.SessionDescription
			err  error
		)
		if kind == domain.SDPOffer {
			desc, err = pc.CreateOffer(nil)
		} else {
			desc, err = pc.CreateAnswer(nil)
		}
		if err != nil {
			s.emit(func(ev core.MediaEvents) { ev.OnPeerConnectionError(fmt.Sprintf("create %s: %v", kind, err)) })
			return
		}
		if err := pc.SetLocalDescription(desc); err != nil {
			s.emit(func(ev core.MediaEvents) { ev.OnPeerConnectionError(fmt.Sprintf("set local %s: %v", kind, err)) })
			return
		}
		sd := domain.SessionDescription{Type: kind, SDP: desc.SDP}
		log.Debug().Str("module", "webrtc").Str("type", string(kind)).Msg("local description set")
		s.emit(func(ev core.MediaEvents) { ev.OnLocalDescription(sd) })
	})
	if !ok {
		s.mu.Lock()
		*pending = false
		s.mu.Unlock()
		return fmt.Errorf("%w: session closed", domain.ErrInvalidSequencing)
	}
	return nil
}

func (s *Session) SetRemoteDescription(sd domain.SessionDescription) error {
	s.mu.Lock()
	pc := s.pc
	s.mu.Unlock()
	if pc == nil {
		return fmt.Errorf("%w: remote %s before peer connection", domain.ErrProtocol, sd.Type)
	}

	if err := pc.SetRemoteDescription(toPionDescription(sd)); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDescription, err)
	}

	s.mu.Lock()
	s.remoteSet = true
	queued := s.queued
	s.queued = nil
	s.mu.Unlock()

	for _, c := range queued {
		s.applyCandidate(pc, c)
	}
	log.Debug().Str("module", "webrtc").Str("type", string(sd.Type)).Int("drained", len(queued)).Msg("remote description set")
	return nil
}

func (s *Session) applyCandidate(pc *webrtc.PeerConnection, c domain.IceCandidate) {
	if err := pc.AddICECandidate(toPionCandidate(c)); err != nil {
		log.Warn().Err(err).Str("module", "webrtc").Str("candidate", c.Candidate).Msg("add ice candidate")
	}
}

// AddRemoteIceCandidate queues candidates that arrive before the remote description.
func (s *Session) AddRemoteIceCandidate(c domain.IceCandidate) {
	s.mu.Lock()
	pc := s.pc
	if pc == nil {
		s.mu.Unlock()
		log.Warn().Str("module", "webrtc").Msg("remote candidate before peer connection, dropped")
		return
	}
	s.added[c] = struct{}{}
	if !s.remoteSet {
		s.queued = append(s.queued, c)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.applyCandidate(pc, c)
}

// RemoveRemoteIceCandidates forgets candidates previously added. pion has no
// way to withdraw an applied candidate, so only queued ones are actually pulled.
func (s *Session) RemoveRemoteIceCandidates(cs []domain.IceCandidate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range cs {
		if _, ok := s.added[c]; !ok {
			log.Warn().Str("module", "webrtc").Str("candidate", c.Candidate).Msg("removal of unknown candidate")
			continue
		}
		delete(s.added, c)
		for i, q := range s.queued {
			if q == c {
				s.queued = append(s.queued[:i], s.queued[i+1:]...)
				break
			}
		}
	}
}

func (s *Session) SetAudioEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audioEnabled = enabled
	if s.audioSender == nil {
		return
	}
	var track webrtc.TrackLocal
	if enabled {
		track = s.audioTrack
	}
	if err := s.audioSender.ReplaceTrack(track); err != nil {
		log.Warn().Err(err).Str("module", "webrtc").Bool("enabled", enabled).Msg("toggle audio")
	}
}

func (s *Session) SwitchCaptureSource() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.Capture == nil || s.videoSender == nil {
		return ErrNoCapture
	}
	track, err := s.cfg.Capture.Next()
	if err != nil {
		return fmt.Errorf("switch camera: %w", err)
	}
	s.videoTrack = track
	if s.videoStopped {
		return nil
	}
	if err := s.videoSender.ReplaceTrack(track); err != nil {
		return fmt.Errorf("switch camera: %w", err)
	}
	return nil
}

func (s *Session) StartVideoSource() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.videoSender == nil || !s.videoStopped {
		return nil
	}
	if err := s.videoSender.ReplaceTrack(s.videoTrack); err != nil {
		return fmt.Errorf("resume video: %w", err)
	}
	s.videoStopped = false
	return nil
}

func (s *Session) StopVideoSource() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.videoSender == nil || s.videoStopped {
		return
	}
	if err := s.videoSender.ReplaceTrack(nil); err != nil {
		log.Warn().Err(err).Str("module", "webrtc").Msg("pause video")
		return
	}
	s.videoStopped = true
}

// SetMaxBitrate caps the video encoder; values <= 0 are ignored.
func (s *Session) SetMaxBitrate(kbps int) {
	if kbps <= 0 {
		return
	}
	s.mu.Lock()
	s.maxBitrate = kbps
	capture := s.cfg.Capture
	s.mu.Unlock()
	if capture != nil {
		capture.SetMaxBitrate(kbps)
	}
	log.Debug().Str("module", "webrtc").Int("kbps", kbps).Msg("max video bitrate")
}

func (s *Session) DataChannel() core.DataChannel {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dc == nil {
		return nil
	}
	return s.dc
}

func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed.Store(true)
		stopStats := s.statsCancel
		s.statsCancel = nil
		pc := s.pc
		capture := s.cfg.Capture
		hadCapture := s.videoSender != nil
		s.mu.Unlock()

		if stopStats != nil {
			stopStats()
		}
		close(s.done)

		if pc != nil {
			if err := pc.Close(); err != nil {
				log.Error().Err(err).Str("module", "webrtc").Msg("close error")
			} else {
				log.Info().Str("module", "webrtc").Msg("closed")
			}
		}
		if capture != nil && hadCapture {
			if err := capture.Close(); err != nil {
				log.Warn().Err(err).Str("module", "webrtc").Msg("close capture")
			}
		}
		s.deliver(func(ev core.MediaEvents) { ev.OnPeerConnectionClosed() })
	})
}
