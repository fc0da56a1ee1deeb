package tool

import (
	"context"
	"strings"
	"testing"

	"chaperone/internal/capability"
	"chaperone/internal/domain"
)

func testReminderTool() *ReminderTool {
	return NewReminderTool(capability.NewReminders(&capability.Deps{}, nil))
}

func TestReminderTool_RequiresTextAndWhen(t *testing.T) {
	rt := testReminderTool()
	if _, err := rt.Execute(context.Background(), map[string]any{"text": "stretch"}); err == nil {
		t.Fatal("missing when should fail")
	}
	if _, err := rt.Execute(context.Background(), map[string]any{"when": "in 5 minutes"}); err == nil {
		t.Fatal("missing text should fail")
	}
}

func TestReminderTool_DelegatesToCreateHandler(t *testing.T) {
	rt := testReminderTool()
	args := map[string]any{"text": "stretch", "when": "in 5 minutes"}

	if _, err := rt.Execute(context.Background(), args); err == nil {
		t.Fatal("expected error without message context")
	}

	// With a message context the composed request reaches the create
	// handler, which declines while reminders are disabled; the decline
	// surfaces as a readable error carrying the request.
	ctx := WithMessageContext(context.Background(), &domain.MessageContext{Channel: "test", ChatID: "c1"})
	_, err := rt.Execute(ctx, args)
	if err == nil || !strings.Contains(err.Error(), "remind me to stretch") {
		t.Fatalf("expected the composed request in the error, got %v", err)
	}
}
