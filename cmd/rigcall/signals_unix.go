//go:build unix

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ArduinoAndWebRTC/webrtc/internal/app/orch"
	"github.com/rs/zerolog/log"
)

// watchSignals maps SIGUSR1 to a calibrate tap and SIGUSR2 to a camera switch.
func watchSignals(ctx context.Context, calibrate chan<- time.Time, call *orch.Orchestrator) error {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(sigs)
	for {
		select {
		case <-ctx.Done():
			return nil
		case s := <-sigs:
			if s == syscall.SIGUSR2 {
				call.SwitchCamera()
				continue
			}
			select {
			case calibrate <- time.Now():
				log.Info().Msg("calibrate requested")
			default:
				log.Warn().Msg("calibrate dropped, no sensor feed running")
			}
		}
	}
}
