package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrStoreClosed      = errors.New("store closed")
	ErrChannelClosed    = errors.New("live channel closed")
	ErrChannelExhausted = errors.New("live channel retry budget exhausted")
	ErrRateLimited      = errors.New("rate limited")
	ErrStaleUpdate      = errors.New("update older than current record")
)

// FailureKind classifies why a fetch could not produce data. Callers use it
// to distinguish "no data because the world is empty" from "no data because
// we couldn't ask".
type FailureKind string

const (
	// FailureNetwork means the request never reached the upstream or never
	// returned.
	FailureNetwork FailureKind = "network"
	// FailureUpstreamPartial means one of several aggregated sources failed
	// while others succeeded. It is absorbed at the fetcher boundary and
	// never surfaces as an error to callers.
	FailureUpstreamPartial FailureKind = "upstream_partial"
	// FailureMalformed means the response violated the canonical contract.
	FailureMalformed FailureKind = "malformed_payload"
	// FailureTimeout means the fetch did not complete within its bounded
	// window.
	FailureTimeout FailureKind = "timeout"
)

// FetchError is the typed failure returned by the fetcher. It wraps the
// underlying cause and records which source (if any single one) produced it.
type FetchError struct {
	Kind   FailureKind
	Source Platform // empty when the failure is not attributable to one source
	Err    error
}

func (e *FetchError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("fetch %s (%s): %v", e.Kind, e.Source, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// NewFetchError wraps err with the given classification.
func NewFetchError(kind FailureKind, source Platform, err error) *FetchError {
	return &FetchError{Kind: kind, Source: source, Err: err}
}

// FailureKindOf extracts the classification from an error chain, defaulting
// to FailureNetwork for unclassified errors.
func FailureKindOf(err error) FailureKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return FailureNetwork
}
