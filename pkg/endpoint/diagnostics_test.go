package endpoint

import (
	"testing"

	"github.com/dhelmrich/UnrealReceiver/pkg/errors"
	"github.com/dhelmrich/UnrealReceiver/pkg/logger"
	"github.com/dhelmrich/UnrealReceiver/pkg/worker"
)

func testHarnessEndpoint(t *testing.T) *Endpoint {
	t.Helper()
	log := logger.NewDefaultLogger(logger.ErrorLevel, "text")
	work := worker.New(log)
	t.Cleanup(work.Stop)
	return New(1, RoleResponder, log, work, func(v interface{}) error { return nil }, Callbacks{}, nil)
}

func TestDumpRemoteDescriptionBeforeInitializeFails(t *testing.T) {
	ep := testHarnessEndpoint(t)
	err := ep.DumpRemoteDescription("/tmp/should-not-be-written.sdp")
	if !errors.IsErrorCode(err, errors.ErrCodeNotConnected) {
		t.Fatalf("expected ErrCodeNotConnected before Initialize, got %v", err)
	}
}

func TestLogChannelInfoWithoutDataChannelIsNoop(t *testing.T) {
	ep := testHarnessEndpoint(t)
	// Must not panic when no data channel has been bound yet.
	ep.LogChannelInfo()
}

func TestRequestRoleNeverErrors(t *testing.T) {
	ep := testHarnessEndpoint(t)
	if err := ep.RequestRole(); err != nil {
		t.Fatalf("RequestRole: %v", err)
	}
}

func TestEffectiveMaxMessageSize(t *testing.T) {
	tests := []struct {
		name       string
		configured int
		want       int
	}{
		{"unset falls back to ceiling", 0, MaxSCTPMessageSize},
		{"negative falls back to ceiling", -1, MaxSCTPMessageSize},
		{"above ceiling is clamped", MaxSCTPMessageSize + 1000, MaxSCTPMessageSize},
		{"below ceiling passes through", 16384, 16384},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := effectiveMaxMessageSize(tt.configured); got != tt.want {
				t.Fatalf("effectiveMaxMessageSize(%d) = %d, want %d", tt.configured, got, tt.want)
			}
		})
	}
}

func TestSetMaxMessageSizeUpdatesConfiguredCeiling(t *testing.T) {
	ep := testHarnessEndpoint(t)
	ep.SetMaxMessageSize(16384)
	ep.mu.Lock()
	got := ep.configuredMaxMessageSize
	ep.mu.Unlock()
	if got != 16384 {
		t.Fatalf("configuredMaxMessageSize = %d, want 16384", got)
	}

	ep.SetMaxMessageSize(0)
	ep.mu.Lock()
	got = ep.configuredMaxMessageSize
	ep.mu.Unlock()
	if got != 16384 {
		t.Fatalf("SetMaxMessageSize(0) should be a no-op, got %d", got)
	}
}
