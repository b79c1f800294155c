package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// scriptedCompleter returns canned responses in order and records requests.
type scriptedCompleter struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	requests  []CompletionRequest
}

func (s *scriptedCompleter) Complete(_ context.Context, req CompletionRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := len(s.requests)
	s.requests = append(s.requests, req)
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	if err != nil {
		return "", err
	}
	if i < len(s.responses) {
		return s.responses[i], nil
	}
	return "", nil
}

func (s *scriptedCompleter) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func TestRetrier_SucceedsAfterTransientFailures(t *testing.T) {
	c := &scriptedCompleter{
		errs:      []error{errors.New("503"), errors.New("timeout"), nil},
		responses: []string{"", "", "ok"},
	}
	r := NewRetrier(c, WithBackoff(0))

	got, err := r.Complete(context.Background(), CompletionRequest{Capability: "test"})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if got != "ok" {
		t.Errorf("Complete = %q, want %q", got, "ok")
	}
	if c.calls() != 3 {
		t.Errorf("calls = %d, want 3", c.calls())
	}
}

func TestRetrier_Exhausted(t *testing.T) {
	last := errors.New("still down")
	c := &scriptedCompleter{errs: []error{errors.New("down"), errors.New("down"), last}}
	r := NewRetrier(c, WithBackoff(0))

	got, err := r.Complete(context.Background(), CompletionRequest{Capability: "test"})
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	if !errors.Is(err, last) {
		t.Errorf("expected last error to be wrapped, got %v", err)
	}
	if got != "" {
		t.Errorf("Complete = %q, want empty", got)
	}
	if c.calls() != DefaultMaxAttempts {
		t.Errorf("calls = %d, want %d", c.calls(), DefaultMaxAttempts)
	}
}

func TestRetrier_AcceptFailureIsRetried(t *testing.T) {
	c := &scriptedCompleter{responses: []string{"not json", "[1]"}}
	r := NewRetrier(c, WithBackoff(0))

	got, err := r.CompleteWith(context.Background(), CompletionRequest{Capability: "test"}, func(s string) error {
		if !strings.HasPrefix(s, "[") {
			return errors.New("no array")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("CompleteWith failed: %v", err)
	}
	if got != "[1]" {
		t.Errorf("CompleteWith = %q", got)
	}
}

func TestRetrier_MaxAttempts(t *testing.T) {
	c := &scriptedCompleter{errs: []error{errors.New("x"), errors.New("x"), errors.New("x"), errors.New("x"), errors.New("x")}}
	r := NewRetrier(c, WithMaxAttempts(5), WithBackoff(0))
	if _, err := r.Complete(context.Background(), CompletionRequest{}); err == nil {
		t.Fatal("expected error")
	}
	if c.calls() != 5 {
		t.Errorf("calls = %d, want 5", c.calls())
	}

	if NewRetrier(c, WithMaxAttempts(0)).MaxAttempts() != 1 {
		t.Error("max attempts should be clamped to 1")
	}
}

func TestRetrier_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := &scriptedCompleter{}
	r := NewRetrier(c)
	if _, err := r.Complete(ctx, CompletionRequest{}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if c.calls() != 0 {
		t.Errorf("calls = %d, want 0", c.calls())
	}
}

func TestRetrier_CallTimeoutCountsAsAttempt(t *testing.T) {
	var calls atomic.Int32
	slow := CompleterFunc(func(ctx context.Context, _ CompletionRequest) (string, error) {
		if calls.Add(1) == 1 {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return "fast", nil
	})
	r := NewRetrier(slow, WithCallTimeout(20*time.Millisecond), WithBackoff(0))

	got, err := r.Complete(context.Background(), CompletionRequest{Capability: "slow"})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if got != "fast" || calls.Load() != 2 {
		t.Errorf("got %q after %d calls", got, calls.Load())
	}
}

func TestRetrier_CeilingBoundsConcurrentCalls(t *testing.T) {
	var current, peak atomic.Int32
	c := CompleterFunc(func(ctx context.Context, _ CompletionRequest) (string, error) {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		current.Add(-1)
		return "ok", nil
	})
	r := NewRetrier(c, WithCeiling(2))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Complete(context.Background(), CompletionRequest{}); err != nil {
				t.Errorf("Complete failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if peak.Load() > 2 {
		t.Errorf("peak concurrent calls = %d, want <= 2", peak.Load())
	}
}

func TestDeliverableWriter_MessageFormat(t *testing.T) {
	c := &scriptedCompleter{responses: []string{"a markdown table"}}
	w := NewDeliverableWriter(NewRetrier(c), "result system")

	got, err := w.Deliverable(context.Background(), "compare options", "Analyst")
	if err != nil {
		t.Fatalf("Deliverable failed: %v", err)
	}
	if got != "a markdown table" {
		t.Errorf("Deliverable = %q", got)
	}
	req := c.requests[0]
	if req.System != "result system" {
		t.Errorf("System = %q", req.System)
	}
	if req.User != "task: compare options \nrole=Analyst" {
		t.Errorf("User = %q", req.User)
	}
	if req.Capability != CapabilityDeliverable {
		t.Errorf("Capability = %q", req.Capability)
	}
}

func TestBuildTaskPrompt(t *testing.T) {
	withCtx := BuildTaskPrompt("## Previous Task Results\n\nprior", "do it", "a list")
	if !strings.HasPrefix(withCtx, "**CONTEXT FROM PREVIOUS TASKS:**\n## Previous Task Results\n\nprior\n---\n**CURRENT TASK:**\ndo it\n") {
		t.Errorf("unexpected prompt with context:\n%s", withCtx)
	}
	if !strings.Contains(withCtx, "**REQUIRED OUTPUT FORMAT & CONTENT:**\na list\n---\n**INSTRUCTION:**") {
		t.Errorf("missing deliverable section:\n%s", withCtx)
	}

	without := BuildTaskPrompt("", "do it", "a list")
	if strings.Contains(without, "CONTEXT FROM PREVIOUS TASKS") {
		t.Error("standalone prompt should not contain context section")
	}
	if !strings.HasPrefix(without, "**CURRENT TASK:**\ndo it\n---\n") {
		t.Errorf("unexpected standalone prompt:\n%s", without)
	}
}

func TestTextGenerator_UsesPersona(t *testing.T) {
	c := &scriptedCompleter{responses: []string{"done"}}
	g := NewTextGenerator(NewRetrier(c))

	got, err := g.Generate(context.Background(), "You are a chef.", "", "cook", "a recipe")
	if err != nil || got != "done" {
		t.Fatalf("Generate = %q, %v", got, err)
	}
	if c.requests[0].System != "You are a chef." {
		t.Errorf("System = %q", c.requests[0].System)
	}
	if c.requests[0].Capability != CapabilityExecute {
		t.Errorf("Capability = %q", c.requests[0].Capability)
	}
}
