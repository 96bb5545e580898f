package core

// Frame is a raw websocket payload.
type Frame []byte

// SignalConnection abstracts a server side messaging transport to one room client.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	// Deliver wraps msg into the relay envelope and queues it without blocking.
	Deliver(msg string) error
	Close()
}
