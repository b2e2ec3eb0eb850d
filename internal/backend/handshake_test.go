package backend

import (
	"context"
	"strings"
	"testing"
	"time"

	"mcpgateway/internal/logging"
)

func TestHandshakeReachesInitializedAndSendsNotification(t *testing.T) {
	logBuf := &syncBuffer{}
	logger := logging.New(logBuf)

	// The stub reads the initialize request, replies with a matching
	// result, then echoes whatever line it reads next so the test can
	// observe the notifications/initialized line Handshake sends.
	script := `
read line
printf '{"jsonrpc":"2.0","id":1,"result":{"protocolVersion":"2025-03-26"}}\n'
read notify
echo "$notify" 1>&2
sleep 1
`
	proc, err := Spawn(Spec{ServerID: "fs", Command: "/bin/sh", Args: []string{"-c", script}}, logger, nil)
	if err != nil {
		t.Fatalf("spawn failed: %v", err)
	}
	defer proc.Kill()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	state, err := Handshake(ctx, proc, logger)
	if err != nil {
		t.Fatalf("handshake failed: %v", err)
	}
	if state != StateInitialized {
		t.Fatalf("expected StateInitialized, got %v", state)
	}

	// The stub's stderr echo of the notification is logged verbatim.
	waitFor(t, 2*time.Second, func() bool {
		return strings.Contains(logBuf.String(), "notifications/initialized")
	})
}

func TestHandshakeReturnsErrorWhenBackendExitsBeforeReplying(t *testing.T) {
	logger := logging.New(&syncBuffer{})

	proc, err := Spawn(Spec{ServerID: "fs", Command: "/bin/sh", Args: []string{"-c", `exit 1`}}, logger, nil)
	if err != nil {
		t.Fatalf("spawn failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	state, err := Handshake(ctx, proc, logger)
	if err == nil {
		t.Fatal("expected an error when the backend exits before the handshake completes")
	}
	if state != StateError {
		t.Fatalf("expected StateError, got %v", state)
	}
}

func TestHandshakeRespectsContextCancellation(t *testing.T) {
	logger := logging.New(&syncBuffer{})

	// Never replies; Handshake must observe ctx cancellation rather than
	// the much longer handshake timeout.
	proc, err := Spawn(Spec{ServerID: "fs", Command: "/bin/sh", Args: []string{"-c", `cat > /dev/null`}}, logger, nil)
	if err != nil {
		t.Fatalf("spawn failed: %v", err)
	}
	defer proc.Kill()

	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancel()

	start := time.Now()
	state, err := Handshake(ctx, proc, logger)
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("expected an error from context cancellation")
	}
	if state != StateError {
		t.Fatalf("expected StateError, got %v", state)
	}
	if elapsed > 5*time.Second {
		t.Fatalf("expected cancellation to short-circuit the handshake timeout, took %v", elapsed)
	}
}
