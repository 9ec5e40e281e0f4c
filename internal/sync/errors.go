package sync

import "errors"

// ProtocolVersion is the sync protocol version spoken by this engine.
const ProtocolVersion = 2

var (
	// ErrNoResponse indicates the peer could not be reached or gave no usable answer.
	ErrNoResponse = errors.New("no response from sync peer")
	// ErrAuthFailed indicates the peer rejected the credentials.
	ErrAuthFailed = errors.New("sync authentication failed")
	// ErrCreateFailed indicates the peer refused to create a deck.
	ErrCreateFailed = errors.New("deck creation failed")
	// ErrProtocol indicates a malformed or incomplete sync message.
	ErrProtocol = errors.New("sync protocol error")
	// ErrProtocolMismatch indicates the peer speaks another protocol version.
	ErrProtocolMismatch = errors.New("sync protocol version mismatch")
)
