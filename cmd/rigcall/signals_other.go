//go:build !unix

package main

import (
	"context"
	"time"

	"github.com/ArduinoAndWebRTC/webrtc/internal/app/orch"
)

func watchSignals(ctx context.Context, _ chan<- time.Time, _ *orch.Orchestrator) error {
	<-ctx.Done()
	return nil
}
