package client

import (
	"errors"
	"fmt"

	decksync "github.com/hyperengineering/decksync/internal/sync"
)

// SyncError types, as reported to users.
const (
	TypeAuthFailed       = "authFailed"
	TypeNoResponse       = "noResponse"
	TypeCreateFailed     = "createFailed"
	TypeProtocol         = "protocol"
	TypeProtocolMismatch = "protocolMismatch"
)

// ErrDeckNotOnServer indicates the configured deck is not in the server's
// deck list.
var ErrDeckNotOnServer = errors.New("deck not on server")

// SyncError is a failed exchange with a sync server. It unwraps to the
// matching sentinel in the sync package and to the underlying cause.
type SyncError struct {
	Type   string
	Status string
	Err    error
}

func (e *SyncError) Error() string {
	msg := "sync error: " + e.Type
	if e.Status != "" {
		msg += fmt.Sprintf(" (status %s)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SyncError) Unwrap() []error {
	var errs []error
	switch e.Type {
	case TypeAuthFailed:
		errs = append(errs, decksync.ErrAuthFailed)
	case TypeNoResponse:
		errs = append(errs, decksync.ErrNoResponse)
	case TypeCreateFailed:
		errs = append(errs, decksync.ErrCreateFailed)
	case TypeProtocol:
		errs = append(errs, decksync.ErrProtocol)
	case TypeProtocolMismatch:
		errs = append(errs, decksync.ErrProtocolMismatch)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}
