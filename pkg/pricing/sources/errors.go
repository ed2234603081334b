// Package sources provides the source capability contracts and shared helpers.
package sources

import (
	"errors"
	"fmt"
)

var (
	// ErrUnexpectedStatus indicates an unexpected HTTP status code.
	ErrUnexpectedStatus = errors.New("unexpected HTTP status code")
	// ErrRateLimitExceeded indicates that a rate limit has been exceeded.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	// ErrInvalidResponse indicates an invalid response from the source.
	ErrInvalidResponse = errors.New("invalid response")
	// ErrInvalidConfig indicates that the source configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrNoNetworksConfigured indicates that no networks are configured.
	ErrNoNetworksConfigured = errors.New("no networks configured")
	// ErrNoAssetsConfigured indicates that a network has no asset mappings.
	ErrNoAssetsConfigured = errors.New("no assets configured for network")
	// ErrClientNotInitialized indicates that the client is not initialized.
	ErrClientNotInitialized = errors.New("client not initialized")
	// ErrUnknownSource indicates a factory lookup miss in the registry.
	ErrUnknownSource = errors.New("unknown source")
)

// FailureKind classifies a source failure.
type FailureKind string

const (
	// FailureTransport covers network errors and timeouts.
	FailureTransport FailureKind = "transport"
	// FailureParse covers malformed upstream payloads.
	FailureParse FailureKind = "parse"
	// FailureRateLimit covers upstream throttling.
	FailureRateLimit FailureKind = "rate_limit"
)

// Failure is a classified source failure. Sources wrap every non-absence
// error in one of these so the aggregator can log and count them uniformly
// without ever surfacing them to callers.
type Failure struct {
	Source string
	Kind   FailureKind
	Err    error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s failure: %v", f.Source, f.Kind, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// NewTransportFailure wraps a network or timeout error.
func NewTransportFailure(source string, err error) error {
	return &Failure{Source: source, Kind: FailureTransport, Err: err}
}

// NewParseFailure wraps a malformed-payload error.
func NewParseFailure(source string, err error) error {
	return &Failure{Source: source, Kind: FailureParse, Err: err}
}

// NewRateLimitFailure wraps an upstream throttling error.
func NewRateLimitFailure(source string, err error) error {
	return &Failure{Source: source, Kind: FailureRateLimit, Err: err}
}

// ClassifyFailure extracts the failure kind from an error chain.
// Unclassified errors are treated as transport failures.
func ClassifyFailure(err error) FailureKind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return FailureTransport
}
