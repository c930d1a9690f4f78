package circuitbreaker

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shiomiya/notihub/internal/db"
	"github.com/shiomiya/notihub/internal/dispatch"
)

func testLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}

func TestCircuitBreaker_StartsInClosedState(t *testing.T) {
	cb := New(DefaultConfig("line"), testLogger())
	if cb.GetState() != StateClosed {
		t.Fatalf("expected StateClosed, got %s", cb.GetState())
	}
}

func TestCircuitBreaker_AllowsRequestsWhenClosed(t *testing.T) {
	cb := New(DefaultConfig("line"), testLogger())
	for i := 0; i < 10; i++ {
		if !cb.Allow() {
			t.Fatalf("request %d should be allowed", i)
		}
	}
}

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb := New(Config{Name: "line", MaxFailures: 3, RecoveryTimeout: 1 * time.Second}, testLogger())
	for i := 0; i < 3; i++ {
		cb.Allow()
		cb.RecordFailure()
	}
	if cb.GetState() != StateOpen {
		t.Fatalf("expected StateOpen, got %s", cb.GetState())
	}
}

func TestCircuitBreaker_RejectsWhenOpen(t *testing.T) {
	cb := New(Config{Name: "line", MaxFailures: 2, RecoveryTimeout: 5 * time.Second}, testLogger())
	cb.Allow()
	cb.RecordFailure()
	cb.Allow()
	cb.RecordFailure()
	if cb.Allow() {
		t.Fatal("should reject when open")
	}
}

func TestCircuitBreaker_HalfOpenAfterTimeout(t *testing.T) {
	cb := New(Config{Name: "line", MaxFailures: 2, RecoveryTimeout: 50 * time.Millisecond}, testLogger())
	cb.Allow()
	cb.RecordFailure()
	cb.Allow()
	cb.RecordFailure()
	time.Sleep(60 * time.Millisecond)
	if !cb.Allow() {
		t.Fatal("should allow probe after timeout")
	}
	if cb.GetState() != StateHalfOpen {
		t.Fatalf("expected StateHalfOpen, got %s", cb.GetState())
	}
}

func TestCircuitBreaker_ClosesOnSuccessfulProbe(t *testing.T) {
	cb := New(Config{Name: "line", MaxFailures: 2, RecoveryTimeout: 50 * time.Millisecond}, testLogger())
	cb.Allow()
	cb.RecordFailure()
	cb.Allow()
	cb.RecordFailure()
	time.Sleep(60 * time.Millisecond)
	cb.Allow()
	cb.RecordSuccess()
	if cb.GetState() != StateClosed {
		t.Fatalf("expected StateClosed, got %s", cb.GetState())
	}
}

func TestCircuitBreaker_ReopensOnFailedProbe(t *testing.T) {
	cb := New(Config{Name: "line", MaxFailures: 2, RecoveryTimeout: 50 * time.Millisecond}, testLogger())
	cb.Allow()
	cb.RecordFailure()
	cb.Allow()
	cb.RecordFailure()
	time.Sleep(60 * time.Millisecond)
	cb.Allow()
	cb.RecordFailure()
	if cb.GetState() != StateOpen {
		t.Fatalf("expected StateOpen, got %s", cb.GetState())
	}
}

func TestCircuitBreaker_SuccessResetsFailureStreak(t *testing.T) {
	cb := New(Config{Name: "line", MaxFailures: 3, RecoveryTimeout: time.Second}, testLogger())
	cb.Allow()
	cb.RecordFailure()
	cb.Allow()
	cb.RecordFailure()
	cb.Allow()
	cb.RecordSuccess()
	cb.Allow()
	cb.RecordFailure()
	if cb.GetState() != StateClosed {
		t.Fatalf("streak should reset on success, got %s", cb.GetState())
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := New(Config{Name: "line", MaxFailures: 1, RecoveryTimeout: time.Hour}, testLogger())
	cb.Allow()
	cb.RecordFailure()
	if cb.GetState() != StateOpen {
		t.Fatal("precondition: breaker should be open")
	}
	cb.Reset()
	if cb.GetState() != StateClosed {
		t.Fatalf("expected StateClosed after reset, got %s", cb.GetState())
	}
	if !cb.Allow() {
		t.Fatal("should allow after reset")
	}
}

// stubSender answers every send with a canned outcome.
type stubSender struct {
	outcome dispatch.Outcome
	calls   int
}

func (s *stubSender) Send(_ context.Context, _ *db.Message, _ *db.Channel, _ []string) dispatch.Outcome {
	s.calls++
	return s.outcome
}

func (s *stubSender) SupportsType(t db.ChannelType) bool { return t == db.ChannelLine }

func protectedFixture(outcome dispatch.Outcome, maxFailures int) (*ProtectedSender, *stubSender) {
	stub := &stubSender{outcome: outcome}
	cb := New(Config{Name: "line", MaxFailures: maxFailures, RecoveryTimeout: time.Hour}, zap.NewNop())
	return NewProtectedSender(stub, cb, zap.NewNop()), stub
}

func sendOnce(p *ProtectedSender) dispatch.Outcome {
	msg := &db.Message{ID: uuid.New()}
	ch := &db.Channel{ID: uuid.New(), Type: db.ChannelLine}
	return p.Send(context.Background(), msg, ch, nil)
}

func TestProtectedSender_PassesThroughSuccess(t *testing.T) {
	p, stub := protectedFixture(dispatch.Outcome{Success: true, StatusCode: 200}, 2)

	outcome := sendOnce(p)
	if !outcome.Success {
		t.Fatalf("expected success, got: %s", outcome.Error)
	}
	if stub.calls != 1 {
		t.Errorf("underlying sender called %d times, want 1", stub.calls)
	}
	if p.Breaker().GetState() != StateClosed {
		t.Errorf("breaker should stay closed on success")
	}
}

func TestProtectedSender_OpensAndFailsFast(t *testing.T) {
	p, stub := protectedFixture(dispatch.Outcome{Error: "provider down"}, 2)

	sendOnce(p)
	sendOnce(p)
	if p.Breaker().GetState() != StateOpen {
		t.Fatalf("breaker should open after 2 failures, state=%s", p.Breaker().GetState())
	}

	outcome := sendOnce(p)
	if outcome.Success {
		t.Fatal("expected rejected outcome while open")
	}
	if !strings.Contains(outcome.Error, "circuit breaker is open") {
		t.Errorf("error should name the open circuit, got: %s", outcome.Error)
	}
	if stub.calls != 2 {
		t.Errorf("open circuit must not reach the provider, calls=%d", stub.calls)
	}
}

func TestProtectedSender_SupportsTypeDelegates(t *testing.T) {
	p, _ := protectedFixture(dispatch.Outcome{Success: true}, 2)
	if !p.SupportsType(db.ChannelLine) {
		t.Error("should delegate line support")
	}
	if p.SupportsType(db.ChannelTelegram) {
		t.Error("should not claim telegram support")
	}
}
