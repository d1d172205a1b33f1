package nats

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sony/gobreaker/v2"

	"github.com/kirillkom/file-converter/internal/core/domain"
)

func TestClassifyNATSError(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		retryable bool
		record    bool
	}{
		{"no servers", fmt.Errorf("nats publish: %w", nats.ErrNoServers), true, true},
		{"disconnected", nats.ErrDisconnected, true, true},
		{"circuit open", gobreaker.ErrOpenState, true, true},
		{"cancelled", context.Canceled, false, false},
		{"bad subject", nats.ErrBadSubject, false, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classifyNATSError(tc.err)
			if got.Retryable != tc.retryable || got.RecordFailure != tc.record {
				t.Fatalf("classifyNATSError(%v) = %+v", tc.err, got)
			}
		})
	}
}

func TestMarkUnavailable(t *testing.T) {
	if err := markUnavailable(nats.ErrTimeout); !domain.IsKind(err, domain.ErrBackendUnavailable) {
		t.Fatalf("expected transient error to be marked unavailable, got %v", err)
	}
	if err := markUnavailable(gobreaker.ErrOpenState); !domain.IsKind(err, domain.ErrBackendUnavailable) {
		t.Fatalf("expected open circuit to be marked unavailable, got %v", err)
	}
	permanent := errors.New("nats: invalid subject")
	if err := markUnavailable(permanent); domain.IsKind(err, domain.ErrBackendUnavailable) {
		t.Fatalf("permanent error must not be marked unavailable: %v", err)
	}
	if err := markUnavailable(nil); err != nil {
		t.Fatalf("nil must stay nil, got %v", err)
	}
}

func TestJobMessageRoundTrip(t *testing.T) {
	published := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	msg := jobMessage("conversions.jobs", "job-1", published)
	if msg.Subject != "conversions.jobs" {
		t.Fatalf("unexpected subject %q", msg.Subject)
	}
	if got := msg.Header.Get(headerPublishedAt); got != "2026-03-01T12:00:00Z" {
		t.Fatalf("unexpected published-at header %q", got)
	}
	if got := jobIDFromMsg(msg); got != "job-1" {
		t.Fatalf("jobIDFromMsg() = %q", got)
	}

	bare := &nats.Msg{Data: []byte(" job-2\n")}
	if got := jobIDFromMsg(bare); got != "job-2" {
		t.Fatalf("bare payload should be accepted, got %q", got)
	}
}
