package control

import (
	"sync"

	"github.com/ArduinoAndWebRTC/webrtc/internal/domain"
)

type fakeChannel struct {
	mu       sync.Mutex
	open     bool
	attempts int
	sent     []string
	onMsg    func([]byte)
}

func (c *fakeChannel) TrySend(p []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts++
	if !c.open {
		return false
	}
	c.sent = append(c.sent, string(p))
	return true
}

func (c *fakeChannel) OnMessage(fn func([]byte)) {
	c.mu.Lock()
	c.onMsg = fn
	c.mu.Unlock()
}

func (c *fakeChannel) deliver(p []byte) {
	c.mu.Lock()
	fn := c.onMsg
	c.mu.Unlock()
	if fn != nil {
		fn(p)
	}
}

func (c *fakeChannel) snapshot() (int, []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts, append([]string(nil), c.sent...)
}

type fakeLink struct {
	in      chan byte
	closed  chan struct{}
	once    sync.Once
	mu      sync.Mutex
	written []byte
}

func newFakeLink() *fakeLink {
	return &fakeLink{in: make(chan byte, 8), closed: make(chan struct{})}
}

func (l *fakeLink) Write(b byte) error {
	select {
	case <-l.closed:
		return domain.ErrLinkClosed
	default:
	}
	l.mu.Lock()
	l.written = append(l.written, b)
	l.mu.Unlock()
	return nil
}

func (l *fakeLink) ReadOne() (byte, error) {
	select {
	case b := <-l.in:
		return b, nil
	case <-l.closed:
		return 0, domain.ErrLinkClosed
	}
}

func (l *fakeLink) Close() error {
	l.once.Do(func() { close(l.closed) })
	return nil
}

func (l *fakeLink) writtenBytes() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]byte(nil), l.written...)
}
