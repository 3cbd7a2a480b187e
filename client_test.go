package mailstrom

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// mockBackend counts calls and delegates to a configurable function.
type mockBackend struct {
	name string
	mu   sync.Mutex
	n    int
	fn   func(call int, msg Message) (string, error)
}

func (m *mockBackend) Name() string { return m.name }

func (m *mockBackend) Send(ctx context.Context, msg Message) (string, error) {
	m.mu.Lock()
	m.n++
	call := m.n
	m.mu.Unlock()
	return m.fn(call, msg)
}

func (m *mockBackend) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.n
}

func alwaysSucceed(name string) *mockBackend {
	return &mockBackend{name: name, fn: func(call int, msg Message) (string, error) {
		return name + "-receipt-" + msg.ID, nil
	}}
}

func alwaysFail(name string) *mockBackend {
	return &mockBackend{name: name, fn: func(call int, msg Message) (string, error) {
		return "", errors.New(name + " unavailable")
	}}
}

func fastOptions() []Option {
	return []Option{
		WithMaxRetries(1),
		WithBaseDelay(time.Millisecond),
		WithMaxDelay(5 * time.Millisecond),
		WithRateLimit(1000, time.Second),
		WithCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 5, ResetTimeout: time.Minute}),
		WithQueuePollInterval(2 * time.Millisecond),
		WithQueueRetryBase(2 * time.Millisecond),
	}
}

func TestNewRequiresBackends(t *testing.T) {
	_, err := New(nil)
	if err == nil {
		t.Fatal("Expected error for zero backends")
	}
	if !errors.Is(err, ErrNoBackends) {
		t.Errorf("Expected ErrNoBackends, got %v", err)
	}
}

func TestNewRejectsDuplicateBackendNames(t *testing.T) {
	_, err := New([]Backend{alwaysSucceed("smtp"), alwaysSucceed("smtp")})
	if err == nil {
		t.Fatal("Expected error for duplicate backend names")
	}
}

func TestSendSuccess(t *testing.T) {
	primary := alwaysSucceed("primary")
	client, err := New([]Backend{primary}, fastOptions()...)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	msg := NewMessage("to@example.com", "from@example.com", "subject", "body")
	outcome := client.Send(context.Background(), msg)

	if !outcome.Success {
		t.Fatalf("Expected success, got error %q", outcome.Error)
	}
	if outcome.Receipt != "primary-receipt-"+msg.ID {
		t.Errorf("Unexpected receipt %q", outcome.Receipt)
	}
	if outcome.Backend != "primary" {
		t.Errorf("Expected backend=primary, got %q", outcome.Backend)
	}
	if outcome.Duration <= 0 {
		t.Error("Expected positive duration")
	}

	attempts := client.Attempts(msg.ID)
	if len(attempts) != 1 {
		t.Fatalf("Expected 1 attempt record, got %d", len(attempts))
	}
	if attempts[0].Status != AttemptSucceeded || attempts[0].Seq != 1 {
		t.Errorf("Unexpected attempt record %+v", attempts[0])
	}
}

func TestSendIdempotencyReturnsCachedOutcome(t *testing.T) {
	primary := alwaysSucceed("primary")
	client, err := New([]Backend{primary}, fastOptions()...)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	msg := NewMessage("to", "from", "s", "b")
	first := client.Send(context.Background(), msg)
	second := client.Send(context.Background(), msg)

	if !second.Success || second.Receipt != first.Receipt {
		t.Errorf("Expected identical cached outcome, got %+v vs %+v", first, second)
	}
	if primary.calls() != 1 {
		t.Errorf("Expected backend invoked once, got %d", primary.calls())
	}
}

func TestSendFailureAllowsRetrySameID(t *testing.T) {
	flaky := &mockBackend{name: "flaky", fn: func(call int, msg Message) (string, error) {
		if call <= 2 {
			return "", errors.New("temporarily down")
		}
		return "ok-receipt", nil
	}}
	client, err := New([]Backend{flaky}, fastOptions()...)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	msg := NewMessage("to", "from", "s", "b")

	// maxRetries=1: two attempts, both fail.
	outcome := client.Send(context.Background(), msg)
	if outcome.Success {
		t.Fatal("Expected first logical send to fail")
	}

	// No permanent lock-out: the same id may be retried and now succeeds.
	outcome = client.Send(context.Background(), msg)
	if !outcome.Success {
		t.Fatalf("Expected retry with same id to be attempted, got %q", outcome.Error)
	}
}

func TestSendFallbackPromotesSecondary(t *testing.T) {
	primary := alwaysFail("primary")
	secondary := alwaysSucceed("secondary")
	client, err := New([]Backend{primary, secondary}, fastOptions()...)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	msg := NewMessage("to", "from", "s", "b")
	outcome := client.Send(context.Background(), msg)

	if !outcome.Success {
		t.Fatalf("Expected fallback success, got %q", outcome.Error)
	}
	if !strings.HasPrefix(outcome.Receipt, "secondary-receipt-") {
		t.Errorf("Expected secondary's receipt format, got %q", outcome.Receipt)
	}

	// Sticky affinity: the secondary is preferred for the next send.
	second := NewMessage("to", "from", "s", "b")
	client.Send(context.Background(), second)

	if primary.calls() != 1 {
		t.Errorf("Expected primary not to be tried again after promotion, got %d calls", primary.calls())
	}
	if secondary.calls() != 2 {
		t.Errorf("Expected secondary to receive the second send, got %d calls", secondary.calls())
	}
}

func TestSendSkipsOpenBreaker(t *testing.T) {
	primary := alwaysFail("primary")
	secondary := alwaysSucceed("secondary")
	client, err := New([]Backend{primary, secondary},
		WithMaxRetries(0),
		WithBaseDelay(time.Millisecond),
		WithMaxDelay(5*time.Millisecond),
		WithRateLimit(1000, time.Second),
		WithCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: time.Minute}),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	// Open primary's breaker. Fallback succeeds each time, which promotes
	// secondary, so pin preferred back to primary between sends.
	for i := 0; i < 2; i++ {
		client.setPreferred(0)
		client.Send(context.Background(), NewMessage("to", "from", "s", "b"))
	}
	if client.breakers["primary"].State() != StateOpen {
		t.Fatalf("Expected primary breaker open, got %v", client.breakers["primary"].State())
	}

	client.setPreferred(0)
	msg := NewMessage("to", "from", "s", "b")
	outcome := client.Send(context.Background(), msg)

	if !outcome.Success {
		t.Fatalf("Expected success through secondary, got %q", outcome.Error)
	}
	// Skipped backend records no attempt.
	for _, attempt := range client.Attempts(msg.ID) {
		if attempt.Backend == "primary" {
			t.Errorf("Expected no attempt against primary while its breaker is open, got %+v", attempt)
		}
	}
	if primary.calls() != 2 {
		t.Errorf("Expected primary untouched after breaker opened, got %d calls", primary.calls())
	}
}

func TestSendAllBackendsExhausted(t *testing.T) {
	first := alwaysFail("first")
	second := alwaysFail("second")
	client, err := New([]Backend{first, second}, fastOptions()...)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	msg := NewMessage("to", "from", "s", "b")
	outcome := client.Send(context.Background(), msg)

	if outcome.Success {
		t.Fatal("Expected failure when every backend fails")
	}
	if !strings.Contains(outcome.Error, "all backends exhausted") {
		t.Errorf("Expected aggregate error, got %q", outcome.Error)
	}
	if !strings.Contains(outcome.Error, "second unavailable") {
		t.Errorf("Expected last concrete backend error preserved, got %q", outcome.Error)
	}
	if outcome.Duration <= 0 {
		t.Error("Expected elapsed wall time reported on total failure")
	}

	// maxRetries=1: each backend tried once per retry attempt.
	attempts := client.Attempts(msg.ID)
	if len(attempts) != 4 {
		t.Fatalf("Expected 4 attempt records (2 backends x 2 rounds), got %d", len(attempts))
	}
	for _, attempt := range attempts {
		if attempt.Status != AttemptFailed {
			t.Errorf("Expected terminal failed status, got %+v", attempt)
		}
	}
	if attempts[0].Seq != 1 || attempts[2].Seq != 2 {
		t.Errorf("Expected per-backend 1-based sequence numbers, got %+v", attempts)
	}
}

func TestSendAsyncDelivers(t *testing.T) {
	primary := alwaysSucceed("primary")
	client, err := New([]Backend{primary}, fastOptions()...)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	msg := NewMessage("to", "from", "s", "b")
	client.SendAsync(msg, 5)
	client.WaitForDrain()

	if primary.calls() != 1 {
		t.Errorf("Expected async message delivered once, got %d calls", primary.calls())
	}
	attempts := client.Attempts(msg.ID)
	if len(attempts) != 1 || attempts[0].Status != AttemptSucceeded {
		t.Errorf("Expected recorded successful attempt, got %+v", attempts)
	}
}

func TestStatsSnapshot(t *testing.T) {
	primary := alwaysFail("primary")
	client, err := New([]Backend{primary}, fastOptions()...)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	client.Send(context.Background(), NewMessage("to", "from", "s", "b"))

	stats := client.Stats()
	if len(stats.Backends) != 1 || stats.Backends[0].Name != "primary" {
		t.Fatalf("Unexpected backend stats %+v", stats.Backends)
	}
	if stats.Backends[0].Failures == 0 {
		t.Error("Expected non-zero failure count after failed send")
	}
	if stats.RateLimiter.Max != 1000 {
		t.Errorf("Expected rate limiter max=1000, got %d", stats.RateLimiter.Max)
	}
	if stats.RateLimiter.Current == 0 {
		t.Error("Expected rate limiter occupancy after a send")
	}
	if !stats.Idempotency.Enabled {
		t.Error("Expected idempotency enabled by default")
	}
}

func TestAdministrativeResets(t *testing.T) {
	primary := alwaysFail("primary")
	client, err := New([]Backend{primary},
		WithMaxRetries(0),
		WithBaseDelay(time.Millisecond),
		WithMaxDelay(5*time.Millisecond),
		WithRateLimit(1000, time.Second),
		WithCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute}),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	client.Send(context.Background(), NewMessage("to", "from", "s", "b"))

	if client.breakers["primary"].State() != StateOpen {
		t.Fatal("Expected breaker open")
	}

	client.ResetBreakers()
	if client.breakers["primary"].State() != StateClosed {
		t.Error("Expected breaker closed after ResetBreakers")
	}

	client.ResetRateLimiter()
	if client.Stats().RateLimiter.Current != 0 {
		t.Error("Expected empty rate limiter window after reset")
	}

	client.ClearIdempotencyCache()
	if client.Stats().Idempotency.Records != 0 {
		t.Error("Expected no idempotency records after clear")
	}

	client.ClearQueue()
	if client.Stats().Queue.Size != 0 {
		t.Error("Expected empty queue after clear")
	}
}

func TestSendWithoutIdempotency(t *testing.T) {
	primary := alwaysSucceed("primary")
	client, err := New([]Backend{primary}, append(fastOptions(), WithoutIdempotency())...)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	msg := NewMessage("to", "from", "s", "b")
	client.Send(context.Background(), msg)
	client.Send(context.Background(), msg)

	if primary.calls() != 2 {
		t.Errorf("Expected both sends delivered with idempotency disabled, got %d", primary.calls())
	}
}

func TestConcurrentSends(t *testing.T) {
	primary := alwaysSucceed("primary")
	client, err := New([]Backend{primary}, fastOptions()...)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome := client.Send(context.Background(), NewMessage("to", "from", "s", "b"))
			if !outcome.Success {
				t.Errorf("Expected success, got %q", outcome.Error)
			}
		}()
	}
	wg.Wait()

	if primary.calls() != 20 {
		t.Errorf("Expected 20 deliveries, got %d", primary.calls())
	}
}
