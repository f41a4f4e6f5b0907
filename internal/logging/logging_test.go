package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestFromContext(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	scoped := slog.New(slog.NewTextHandler(&out, nil)).With("request_id", "req-1")
	ctx := WithLogger(context.Background(), scoped)

	FromContext(ctx, nil).Info("handled")
	if !strings.Contains(out.String(), "request_id=req-1") {
		t.Fatalf("expected scoped logger, got %q", out.String())
	}

	if logger := FromContext(context.Background(), nil); logger == nil {
		t.Fatalf("expected a no-op logger when none is available")
	}
}

func TestMultiHandler_FansOutByLevel(t *testing.T) {
	t.Parallel()

	var info, errs bytes.Buffer
	logger := slog.New(MultiHandler(
		slog.NewTextHandler(&info, &slog.HandlerOptions{Level: slog.LevelInfo}),
		nil,
		slog.NewTextHandler(&errs, &slog.HandlerOptions{Level: slog.LevelError}),
	)).With("component", "reaper")

	logger.Info("sweep finished")
	logger.Error("sweep failed")

	if strings.Count(info.String(), "component=reaper") != 2 {
		t.Fatalf("info handler output: %q", info.String())
	}
	if strings.Contains(errs.String(), "sweep finished") || !strings.Contains(errs.String(), "sweep failed") {
		t.Fatalf("error handler output: %q", errs.String())
	}
}

func TestWithAttrs(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	base := slog.New(slog.NewTextHandler(&out, nil))
	ctx := WithAttrs(context.Background(), base, "order_id", "ord-1")
	ctx = WithAttrs(ctx, nil, "provider", "whish")

	FromContext(ctx, nil).Info("webhook applied")
	if got := out.String(); !strings.Contains(got, "order_id=ord-1") || !strings.Contains(got, "provider=whish") {
		t.Fatalf("expected both attributes, got %q", got)
	}
}
