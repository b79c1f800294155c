package reduce

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"github.com/ShayCichocki/cascade/internal/agent"
)

// echoCompleter returns a digest of its input, so equal inputs give equal output.
func echoCompleter() agent.Completer {
	return agent.CompleterFunc(func(_ context.Context, req agent.CompletionRequest) (string, error) {
		sum := sha256.Sum256([]byte(req.System + "\x00" + req.User))
		return hex.EncodeToString(sum[:]), nil
	})
}

func TestBuildPrompt(t *testing.T) {
	got := BuildPrompt("plan a trip", "## Previous Task Results\n\nbudget", "### task: book \nresult:\ndone \n\n")
	want := "\n# Main Task\nplan a trip\n## Prerequisite Task Result\n## Previous Task Results\n\nbudget\n## Sub-task Execution Results\n### task: book \nresult:\ndone \n\n\n"
	if got != want {
		t.Errorf("BuildPrompt =\n%q\nwant\n%q", got, want)
	}
}

func TestBuildPrompt_PlaceholderInInput(t *testing.T) {
	// Placeholders inside inputs are not expanded a second time.
	got := BuildPrompt("[result]", "", "leaf")
	if !strings.Contains(got, "# Main Task\n[result]\n") {
		t.Errorf("main task was rewritten:\n%s", got)
	}
}

func TestReduce_Deterministic(t *testing.T) {
	r := New(agent.NewRetrier(echoCompleter()))
	ctx := context.Background()

	first, err := r.Reduce(ctx, "main", "upstream", "leaves")
	if err != nil {
		t.Fatalf("Reduce failed: %v", err)
	}
	// Interleave a different call to catch state leaking between calls.
	if _, err := r.Reduce(ctx, "other", "x", "y"); err != nil {
		t.Fatalf("Reduce failed: %v", err)
	}
	second, err := r.Reduce(ctx, "main", "upstream", "leaves")
	if err != nil {
		t.Fatalf("Reduce failed: %v", err)
	}
	if first != second {
		t.Errorf("Reduce not deterministic: %q != %q", first, second)
	}
}

func TestReduce_UsesFixedSystemPrompt(t *testing.T) {
	var got agent.CompletionRequest
	c := agent.CompleterFunc(func(_ context.Context, req agent.CompletionRequest) (string, error) {
		got = req
		return "answer", nil
	})
	if _, err := New(agent.NewRetrier(c)).Reduce(context.Background(), "m", "u", "l"); err != nil {
		t.Fatalf("Reduce failed: %v", err)
	}
	if got.System != SystemPrompt {
		t.Error("system prompt not used")
	}
	if got.Capability != Capability {
		t.Errorf("Capability = %q", got.Capability)
	}
	if !strings.Contains(SystemPrompt, "```text\n# Main Task") {
		t.Error("system prompt lost its input format block")
	}
}

func TestReduce_ExhaustedReturnsEmpty(t *testing.T) {
	c := agent.CompleterFunc(func(context.Context, agent.CompletionRequest) (string, error) {
		return "", errors.New("down")
	})
	got, err := New(agent.NewRetrier(c)).Reduce(context.Background(), "m", "u", "l")
	if !errors.Is(err, agent.ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	if got != "" {
		t.Errorf("Reduce = %q, want empty", got)
	}
}
