package memory

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTypeCode      = errors.New("invalid memory type code")
	ErrInvalidTimeOrdering  = errors.New("current time is before memory creation time")
	ErrInvalidConfiguration = errors.New("invalid scorer configuration")
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrConfiguration        = errors.New("configuration error")
	ErrScoreParse           = errors.New("importance score not found in response")
	ErrGateway              = errors.New("language model gateway error")
	// ErrGatewayUnavailable is returned by a gateway that refuses all calls
	// (e.g. an open circuit). It aborts a whole retrieval instead of falling back.
	ErrGatewayUnavailable = errors.New("language model gateway unavailable")
	ErrStorage            = errors.New("memory storage error")
)

// ScoreParseError reports that no usable score was found after all attempts.
type ScoreParseError struct {
	Attempts     int
	LastResponse string
}

func (e *ScoreParseError) Error() string {
	return fmt.Sprintf("importance score not found after %d attempts (last response: %q)", e.Attempts, e.LastResponse)
}

func (e *ScoreParseError) Unwrap() error { return ErrScoreParse }

// GatewayError wraps a transport or auth failure from the language model gateway.
type GatewayError struct {
	Err error
}

func (e *GatewayError) Error() string {
	return "gateway: " + e.Err.Error()
}

// Is lets errors.Is(err, ErrGateway) match any GatewayError.
func (e *GatewayError) Is(target error) bool { return target == ErrGateway }

func (e *GatewayError) Unwrap() error { return e.Err }
