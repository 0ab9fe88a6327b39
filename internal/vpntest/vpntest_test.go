package vpntest

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ooni/sscontrol/internal/engine"
)

func TestNewTestEventFromString(t *testing.T) {
	tests := []struct {
		name    string
		s       string
		want    *TestEvent
		wantErr bool
	}{
		{
			name: "numeric status",
			s:    "[status] 3",
			want: &TestEvent{Event: engine.Event{Kind: engine.EventStatus, Payload: 3.0}},
		},
		{
			name: "status label with IAT",
			s:    "[status] Connected +10ms",
			want: &TestEvent{
				Event: engine.Event{Kind: engine.EventStatus, Payload: "Connected"},
				IAT:   10 * time.Millisecond,
			},
		},
		{
			name: "error envelope",
			s:    `[error] {"code":"ERR_PROXY_SERVER_UNREACHABLE","message":"no route"}`,
			want: &TestEvent{Event: engine.Event{Kind: engine.EventError, Payload: map[string]any{
				"code":    "ERR_PROXY_SERVER_UNREACHABLE",
				"message": "no route",
			}}},
		},
		{
			name: "no payload",
			s:    "[error]",
			want: &TestEvent{Event: engine.Event{Kind: engine.EventError}},
		},
		{
			name:    "unknown kind",
			s:       "[packet] 1",
			wantErr: true,
		},
		{
			name:    "bad IAT",
			s:       "[status] 3 +soon",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewTestEventFromString(tt.s)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewTestEventFromString() error = %v, wantErr %v", err, tt.wantErr)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Error(diff)
			}
		})
	}
}
