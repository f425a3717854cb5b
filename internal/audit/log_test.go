package audit

import (
	"context"
	"testing"
)

func TestLogEventRequiresName(t *testing.T) {
	if err := LogEvent(context.Background(), "  ", nil); err == nil {
		t.Fatalf("expected error for blank event name")
	}
}

func TestLogEventWithContext(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithActor(ctx, "admin-7")
	if err := LogEvent(ctx, "provisioning.failed", map[string]any{"step": "set-credential"}); err != nil {
		t.Fatalf("LogEvent: %v", err)
	}
}

func TestContextHelpersIgnoreBlank(t *testing.T) {
	ctx := context.Background()
	if got := WithRequestID(ctx, "   "); got != ctx {
		t.Fatalf("blank request id should not modify context")
	}
	if got := WithActor(ctx, ""); got != ctx {
		t.Fatalf("blank actor should not modify context")
	}
}
