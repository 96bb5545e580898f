package rtc

import (
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// inbound counts received RTP packets and sequence gaps across all remote tracks.
type inbound struct {
	received atomic.Uint64
	lost     atomic.Uint64
}

type seqTracker struct {
	started bool
	last    uint16
}

// observe returns how many packets were skipped before pkt.
// Reordered or duplicated packets count as zero.
func (t *seqTracker) observe(pkt *rtp.Packet) uint64 {
	seq := pkt.SequenceNumber
	if !t.started {
		t.started = true
		t.last = seq
		return 0
	}
	delta := seq - t.last
	if delta == 0 || delta >= 0x8000 {
		return 0
	}
	t.last = seq
	return uint64(delta - 1)
}

// drain reads the track until it ends so RTCP keeps flowing.
func (in *inbound) drain(track *webrtc.TrackRemote, logger zerolog.Logger) {
	var seq seqTracker
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			logger.Debug().Err(err).Msg("remote track ended")
			return
		}
		in.received.Add(1)
		if gap := seq.observe(pkt); gap > 0 {
			in.lost.Add(gap)
		}
	}
}

func (in *inbound) snapshot() (received, lost uint64) {
	return in.received.Load(), in.lost.Load()
}
