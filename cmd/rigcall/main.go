package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/ArduinoAndWebRTC/webrtc/internal/adapters/capture"
	"github.com/ArduinoAndWebRTC/webrtc/internal/adapters/roomclient"
	"github.com/ArduinoAndWebRTC/webrtc/internal/adapters/rtc"
	"github.com/ArduinoAndWebRTC/webrtc/internal/adapters/serial"
	"github.com/ArduinoAndWebRTC/webrtc/internal/app/control"
	"github.com/ArduinoAndWebRTC/webrtc/internal/app/orch"
	"github.com/ArduinoAndWebRTC/webrtc/internal/config"
	"github.com/ArduinoAndWebRTC/webrtc/internal/core"
	"github.com/ArduinoAndWebRTC/webrtc/internal/domain"
	"github.com/ArduinoAndWebRTC/webrtc/internal/logging"
	"github.com/ArduinoAndWebRTC/webrtc/internal/metrics"
)

var errCallEnded = errors.New("call ended")

// leaveGrace bounds how long shutdown waits for the room client to say bye.
const leaveGrace = 3 * time.Second

// stdin backs the "-" sensor feed.
var stdin io.Reader = os.Stdin

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	fs := config.Flags("rigcall")
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		log.Fatal().Err(err).Msg("bad flags")
	}
	cfg, err := config.Load(fs)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	closer := logging.Setup(cfg.Log)
	defer closer.Close()
	log.Debug().Msg("effective config:\n" + cfg.Dump())

	role, err := cfg.DeviceRole()
	if err != nil {
		log.Fatal().Err(err).Msg("bad device role")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, role); err != nil {
		log.Error().Err(err).Msg("rigcall failed")
		closer.Close()
		os.Exit(1)
	}
	log.Info().Msg("rigcall exited")
}

func run(ctx context.Context, cfg *config.Config, role domain.DeviceRole) error {
	bridge := control.NewBridge(role, cfg.Control.Debounce)

	rtcCfg := rtc.Config{
		VideoCallEnabled: cfg.Media.VideoCallEnabled,
		VideoMaxBitrate:  cfg.Media.VideoMaxBitrate,
		AudioCodec:       cfg.Media.AudioCodec,
		PionLogLevel:     cfg.Media.PionLogLevel,
	}
	if role == domain.DeviceCamera && cfg.Media.VideoCallEnabled {
		src, err := capture.New(capture.Config{BitrateKbps: cfg.Media.VideoMaxBitrate, Audio: true})
		if err != nil {
			log.Warn().Err(err).Msg("no local capture, receiving only")
		} else {
			rtcCfg.Capture = src
			defer src.Close()
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	var room *roomclient.Client
	call := orch.New(
		func(ev core.SignalingEvents) core.SignalingChannel {
			room = roomclient.New(ev)
			return room
		},
		func(ev core.MediaEvents) core.MediaSession { return rtc.NewSession(rtcCfg, ev) },
		orch.Options{
			StatsInterval:   cfg.Media.StatsInterval,
			VideoMaxBitrate: cfg.Media.VideoMaxBitrate,
			Control:         bridge,
			OnState: func(s orch.State) {
				if s.Phase == orch.PhaseActive {
					log.Info().Str("role", role.String()).Msg("call active")
				}
			},
		},
	)
	if err := call.StartCall(gctx, cfg.RoomIdentity()); err != nil {
		return err
	}

	g.Go(func() error {
		<-call.Done()
		if err := call.Err(); err != nil {
			return err
		}
		return errCallEnded
	})

	g.Go(func() error { return metrics.Serve(gctx, cfg.Metrics.Port) })

	calibrate := make(chan time.Time, 1)
	g.Go(func() error { return watchSignals(gctx, calibrate, call) })

	if path := cfg.Control.Sensors.Path; path != "" {
		if err := startSensorFeed(gctx, g, path, calibrate, bridge); err != nil {
			return err
		}
	}

	if port := cfg.Control.Serial.Port; port != "" {
		g.Go(func() error {
			link, err := serial.Dial(gctx, port, cfg.Control.Serial.Baud, 0)
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}
				return err
			}
			log.Info().Str("port", link.Name()).Msg("rig link up")
			if err := bridge.ServeLink(gctx, link); err != nil && !errors.Is(err, domain.ErrLinkClosed) {
				return err
			}
			return nil
		})
	}

	err := g.Wait()
	if !awaitLeave(room, leaveGrace) {
		log.Warn().Dur("grace", leaveGrace).Msg("room not left in time")
	}
	if errors.Is(err, errCallEnded) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// awaitLeave waits for room to finish leaving, up to grace. A nil room never joined.
func awaitLeave(room *roomclient.Client, grace time.Duration) bool {
	if room == nil {
		return true
	}
	t := time.NewTimer(grace)
	defer t.Stop()
	select {
	case <-room.Done():
		return true
	case <-t.C:
		return false
	}
}

// startSensorFeed runs the sample reader, the tracker and the bridge's outbound loop.
// A path of "-" reads stdin.
func startSensorFeed(ctx context.Context, g *errgroup.Group, path string, calibrate <-chan time.Time, bridge *control.Bridge) error {
	orientation := make(chan domain.OrientationSample, 16)
	gravity := make(chan domain.GravitySample, 16)
	events := make(chan domain.ControlEvent, 16)
	source := control.NewSource()

	if path == "-" {
		// A read on a terminal or pipe is not interrupted by Close, so the
		// stdin reader is left out of the group and dies with the process.
		in := stdin
		go func() {
			if err := control.ReadSamples(ctx, in, orientation, gravity); err != nil {
				log.Warn().Err(err).Msg("sensor feed stopped")
			}
		}()
	} else {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open sensor feed: %w", err)
		}
		context.AfterFunc(ctx, func() { _ = f.Close() })
		g.Go(func() error { return control.ReadSamples(ctx, f, orientation, gravity) })
	}
	g.Go(func() error { return source.Run(ctx, orientation, gravity, calibrate, events) })
	g.Go(func() error { return bridge.Run(ctx, events) })
	log.Info().Str("path", path).Msg("sensor feed started")
	return nil
}
