// Package serial provides the owned serial link handle used for the rig and joystick.
package serial

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ArduinoAndWebRTC/webrtc/internal/domain"
	"github.com/rs/zerolog/log"
	bugst "go.bug.st/serial"
)

const DefaultBaud = 9600

// Link is a byte oriented serial connection. Reads and writes may run on
// different goroutines; writes are serialized.
type Link struct {
	name string
	port io.ReadWriteCloser

	wmu       sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

// New wraps an already open port.
func New(name string, port io.ReadWriteCloser) *Link {
	return &Link{name: name, port: port, closed: make(chan struct{})}
}

// Open opens a serial device such as /dev/rfcomm0 or /dev/ttyUSB0.
func Open(name string, baud int) (*Link, error) {
	if baud <= 0 {
		baud = DefaultBaud
	}
	port, err := bugst.Open(name, &bugst.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", name, err)
	}
	log.Info().Str("module", "adapters.serial").Str("port", name).Int("baud", baud).Msg("serial link open")
	return New(name, port), nil
}

// Dial keeps trying to open the device until it succeeds or ctx is done.
// It blocks only the calling goroutine.
func Dial(ctx context.Context, name string, baud int, retry time.Duration) (*Link, error) {
	if retry <= 0 {
		retry = 2 * time.Second
	}
	for {
		link, err := Open(name, baud)
		if err == nil {
			return link, nil
		}
		log.Warn().Err(err).Str("module", "adapters.serial").Str("port", name).Msg("serial connect failed, retrying")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retry):
		}
	}
}

func (l *Link) Name() string { return l.name }

func (l *Link) Write(b byte) error {
	select {
	case <-l.closed:
		return domain.ErrLinkClosed
	default:
	}
	l.wmu.Lock()
	defer l.wmu.Unlock()
	if _, err := l.port.Write([]byte{b}); err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrLinkClosed, l.name, err)
	}
	return nil
}

// ReadOne blocks for the next byte. Empty reads (port timeouts) are retried.
func (l *Link) ReadOne() (byte, error) {
	buf := make([]byte, 1)
	for {
		n, err := l.port.Read(buf)
		if n == 1 {
			return buf[0], nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return 0, domain.ErrLinkClosed
			}
			return 0, fmt.Errorf("%w: %s: %v", domain.ErrLinkClosed, l.name, err)
		}
		select {
		case <-l.closed:
			return 0, domain.ErrLinkClosed
		default:
		}
	}
}

func (l *Link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.closed)
		err = l.port.Close()
		log.Info().Str("module", "adapters.serial").Str("port", l.name).Msg("serial link closed")
	})
	return err
}
