package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/kirillkom/file-converter/internal/core/domain"
)

func fastRetry(attempts int) Config {
	return Config{Retry: RetryPolicy{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		Multiplier:     2,
	}}
}

func TestExecuteRetryDecisions(t *testing.T) {
	errTemp := errors.New("temporary")
	errPermanent := errors.New("permanent")
	classify := func(err error) ErrorClassification {
		return ErrorClassification{Retryable: errors.Is(err, errTemp), RecordFailure: true}
	}

	cases := []struct {
		name         string
		failures     []error
		wantErr      error
		wantAttempts int
	}{
		{name: "succeeds after temporary failures", failures: []error{errTemp, errTemp}, wantAttempts: 3},
		{name: "permanent failure is not retried", failures: []error{errPermanent}, wantErr: errPermanent, wantAttempts: 1},
		{name: "gives up after max attempts", failures: []error{errTemp, errTemp, errTemp, errTemp}, wantErr: errTemp, wantAttempts: 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			exec := NewExecutor(fastRetry(3))
			attempts := 0
			err := exec.Execute(context.Background(), "op", func(context.Context) error {
				attempts++
				if attempts <= len(tc.failures) {
					return tc.failures[attempts-1]
				}
				return nil
			}, classify)
			if !errors.Is(err, tc.wantErr) || (tc.wantErr == nil && err != nil) {
				t.Fatalf("Execute() error = %v, want %v", err, tc.wantErr)
			}
			if attempts != tc.wantAttempts {
				t.Fatalf("expected %d attempts, got %d", tc.wantAttempts, attempts)
			}
		})
	}
}

func TestExecuteStopsWaitingWhenCancelled(t *testing.T) {
	exec := NewExecutor(Config{Retry: RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Hour, MaxBackoff: time.Hour, Multiplier: 1}})
	ctx, cancel := context.WithCancel(context.Background())
	errTemp := errors.New("temporary")

	attempts := 0
	err := exec.Execute(ctx, "op", func(context.Context) error {
		attempts++
		cancel()
		return errTemp
	}, func(error) ErrorClassification { return ErrorClassification{Retryable: true} })
	if !errors.Is(err, errTemp) || attempts != 1 {
		t.Fatalf("expected the first error after cancellation, got %v after %d attempts", err, attempts)
	}
}

func TestExecuteOpensCircuitAfterFailures(t *testing.T) {
	cfg := fastRetry(1)
	cfg.Breaker = BreakerPolicy{Enabled: true, MinRequests: 2, FailureRatio: 0.5, OpenTimeout: 50 * time.Millisecond, HalfOpenProbes: 1}
	exec := NewExecutor(cfg)

	errTemp := errors.New("temporary")
	for i := 0; i < 2; i++ {
		err := exec.Execute(context.Background(), "op", func(context.Context) error {
			return errTemp
		}, nil)
		if !errors.Is(err, errTemp) {
			t.Fatalf("expected temporary error on iteration %d, got %v", i, err)
		}
	}

	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		t.Fatalf("circuit should be open and must not call operation")
		return nil
	}, nil)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open state error, got %v", err)
	}
	if state := exec.State("op"); state != gobreaker.StateOpen.String() {
		t.Fatalf("expected open breaker, got %s", state)
	}
	if state := exec.State("other"); state != gobreaker.StateClosed.String() {
		t.Fatalf("unused operation should report closed, got %s", state)
	}
}

func TestRetryDelayGrowsToCap(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, InitialBackoff: 10 * time.Millisecond, MaxBackoff: 35 * time.Millisecond, Multiplier: 2}
	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 35 * time.Millisecond, 35 * time.Millisecond}
	for i, w := range want {
		if got := p.delay(i + 1); got != w {
			t.Fatalf("delay(%d) = %s, want %s", i+1, got, w)
		}
	}
}

func TestNormalizeFillsZeroValues(t *testing.T) {
	cfg := Config{Retry: RetryPolicy{InitialBackoff: time.Second}}.normalize()
	def := DefaultConfig()
	if cfg.Retry.MaxAttempts != def.Retry.MaxAttempts {
		t.Fatalf("expected default attempts, got %d", cfg.Retry.MaxAttempts)
	}
	if cfg.Retry.MaxBackoff != time.Second {
		t.Fatalf("max backoff must not be below the initial backoff, got %s", cfg.Retry.MaxBackoff)
	}
	if cfg.Breaker.FailureRatio != def.Breaker.FailureRatio || cfg.Breaker.Enabled {
		t.Fatalf("unexpected breaker policy %+v", cfg.Breaker)
	}
}

func TestCallReturnsValueAfterRetry(t *testing.T) {
	var observed []int
	exec := NewExecutor(BackendConfig(time.Millisecond), WithRetryObserver(func(_ string, attempt int, _ error) {
		observed = append(observed, attempt)
	}))

	errUnavailable := errors.New("unavailable")
	attempts := 0
	out, err := Call(context.Background(), exec, "backend.office", func(context.Context) ([]byte, error) {
		attempts++
		if attempts == 1 {
			return nil, errUnavailable
		}
		return []byte("ok"), nil
	}, func(err error) ErrorClassification {
		return ErrorClassification{Retryable: errors.Is(err, errUnavailable), RecordFailure: true}
	})
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if string(out) != "ok" {
		t.Fatalf("unexpected output %q", out)
	}
	if len(observed) != 1 || observed[0] != 1 {
		t.Fatalf("expected one retry notification, got %v", observed)
	}
}

func TestCallWithNilExecutorRunsOnce(t *testing.T) {
	calls := 0
	v, err := Call(context.Background(), nil, "op", func(context.Context) (int, error) {
		calls++
		return 7, nil
	}, nil)
	if err != nil || v != 7 || calls != 1 {
		t.Fatalf("Call() = %d, %v after %d calls", v, err, calls)
	}
}

type scriptedConverter struct {
	errs  []error
	calls int
}

func (c *scriptedConverter) Declaration() domain.BackendDeclaration {
	return domain.BackendDeclaration{ID: domain.BackendMarkup}
}

func (c *scriptedConverter) Convert(context.Context, domain.ConversionInput) ([]byte, error) {
	c.calls++
	if c.calls <= len(c.errs) && c.errs[c.calls-1] != nil {
		return nil, c.errs[c.calls-1]
	}
	return []byte("converted"), nil
}

func TestGuardConverterRetriesOnlyUnavailable(t *testing.T) {
	unavailable := domain.WrapError(domain.ErrBackendUnavailable, "pandoc", errors.New("spawn failed"))
	timeout := domain.WrapError(domain.ErrBackendTimeout, "pandoc", context.DeadlineExceeded)
	corrupt := domain.WrapError(domain.ErrInputCorrupt, "pandoc", errors.New("bad input"))

	cases := []struct {
		name      string
		errs      []error
		wantCalls int
		wantKind  error
	}{
		{name: "unavailable then success", errs: []error{unavailable}, wantCalls: 2},
		{name: "unavailable twice", errs: []error{unavailable, unavailable}, wantCalls: 2, wantKind: domain.ErrBackendUnavailable},
		{name: "timeout not retried", errs: []error{timeout}, wantCalls: 1, wantKind: domain.ErrBackendTimeout},
		{name: "corrupt not retried", errs: []error{corrupt}, wantCalls: 1, wantKind: domain.ErrInputCorrupt},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			backend := &scriptedConverter{errs: tc.errs}
			guarded := GuardConverter(backend, NewExecutor(BackendConfig(time.Millisecond)))
			if guarded.Declaration().ID != domain.BackendMarkup {
				t.Fatalf("declaration must pass through")
			}
			out, err := guarded.Convert(context.Background(), domain.ConversionInput{})
			if backend.calls != tc.wantCalls {
				t.Fatalf("expected %d calls, got %d", tc.wantCalls, backend.calls)
			}
			if tc.wantKind == nil {
				if err != nil || string(out) != "converted" {
					t.Fatalf("Convert() = %q, %v", out, err)
				}
				return
			}
			if !domain.IsKind(err, tc.wantKind) {
				t.Fatalf("expected %v, got %v", tc.wantKind, err)
			}
		})
	}
}

func TestGuardConverterReportsOpenCircuitAsUnavailable(t *testing.T) {
	cfg := BackendConfig(time.Millisecond)
	cfg.Breaker.MinRequests = 1
	cfg.Breaker.FailureRatio = 1
	exec := NewExecutor(cfg)
	backend := &scriptedConverter{errs: []error{
		domain.WrapError(domain.ErrBackendTimeout, "office", context.DeadlineExceeded),
	}}
	guarded := GuardConverter(backend, exec)

	if _, err := guarded.Convert(context.Background(), domain.ConversionInput{}); !domain.IsKind(err, domain.ErrBackendTimeout) {
		t.Fatalf("expected timeout on first call, got %v", err)
	}
	_, err := guarded.Convert(context.Background(), domain.ConversionInput{})
	if !domain.IsKind(err, domain.ErrBackendUnavailable) {
		t.Fatalf("open circuit must surface as unavailable, got %v", err)
	}
	if backend.calls != 1 {
		t.Fatalf("open circuit must not reach the backend, got %d calls", backend.calls)
	}
	if guarded.State() != gobreaker.StateOpen.String() {
		t.Fatalf("expected open state, got %s", guarded.State())
	}
}
