package remoterelay

import (
	"errors"
	"fmt"
)

// Domain errors for the RemoteRelay bridge.
var (
	// ErrAPI matches every error produced by a daemon call.
	ErrAPI = errors.New("remoterelay: daemon api error")

	// ErrTransport matches network-level failures (refused, timeout, DNS).
	ErrTransport = errors.New("remoterelay: transport failure")

	// ErrInvalidResponse matches bodies that are missing or not a JSON object.
	ErrInvalidResponse = errors.New("remoterelay: invalid response")

	// ErrPairing matches failures of the pairing code exchange.
	ErrPairing = errors.New("remoterelay: pairing failed")

	// ErrUnsupportedCommand is returned for commands outside the fixed
	// vocabulary. Such commands are never sent.
	ErrUnsupportedCommand = errors.New("remoterelay: unsupported command")

	// ErrUnknownSource is returned when a source name does not resolve.
	ErrUnknownSource = errors.New("remoterelay: unknown input source")

	// ErrNoMACAddresses is returned by turn-on when nothing can be woken.
	ErrNoMACAddresses = errors.New("remoterelay: no MAC addresses configured for Wake-on-LAN")

	// ErrInvalidMAC is returned for MAC strings that cannot be parsed.
	ErrInvalidMAC = errors.New("remoterelay: invalid MAC address")

	// ErrInvalidInput is returned for malformed caller input.
	ErrInvalidInput = errors.New("remoterelay: invalid input")

	// ErrFlowNotFound is returned for unknown or expired pairing flows.
	ErrFlowNotFound = errors.New("remoterelay: pairing flow not found")

	// ErrFlowFinished is returned when stepping a paired or aborted flow.
	ErrFlowFinished = errors.New("remoterelay: pairing flow already finished")

	// ErrInvalidTransition is returned when a step does not apply to the
	// flow's current state.
	ErrInvalidTransition = errors.New("remoterelay: step not valid in current flow state")

	// ErrEntryNotLoaded is returned when no runtime exists for an entry.
	ErrEntryNotLoaded = errors.New("remoterelay: entry not loaded")
)

// ErrorKind distinguishes the three ways a daemon call can fail.
type ErrorKind int

const (
	// KindTransport: the request never produced an HTTP response.
	KindTransport ErrorKind = iota
	// KindHTTP: the daemon answered with status >= 400.
	KindHTTP
	// KindInvalidResponse: the body was not a JSON object.
	KindInvalidResponse
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindHTTP:
		return "http"
	case KindInvalidResponse:
		return "invalid_response"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// APIError is returned by every Client call that fails. Message carries the
// daemon's message field, "HTTP {status}", or the underlying network error.
type APIError struct {
	Kind    ErrorKind
	Status  int
	Message string
	Err     error
}

func (e *APIError) Error() string {
	return e.Message
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match ErrAPI for any kind, plus ErrTransport and
// ErrInvalidResponse for their kinds.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrAPI:
		return true
	case ErrTransport:
		return e.Kind == KindTransport
	case ErrInvalidResponse:
		return e.Kind == KindInvalidResponse
	}
	return false
}

// PairingError wraps any failure of the pairing code exchange so callers can
// tell a rejected code from a generic connectivity problem.
type PairingError struct {
	Err *APIError
}

func (e *PairingError) Error() string {
	return e.Err.Message
}

func (e *PairingError) Unwrap() error {
	return e.Err
}

// Is matches ErrPairing.
func (e *PairingError) Is(target error) bool {
	return target == ErrPairing
}
