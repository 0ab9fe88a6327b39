package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ooni/sscontrol/internal/optional"
	"github.com/ooni/sscontrol/internal/platerrors"
)

func TestNewElapsed(t *testing.T) {
	tests := []struct {
		name string
		d    time.Duration
		want Elapsed
	}{
		{"zero", 0, Elapsed{}},
		{"one hour one minute one second", 3661 * time.Second, Elapsed{Hours: 1, Minutes: 1, Seconds: 1}},
		{"truncates fractions", 59*time.Second + 999*time.Millisecond, Elapsed{Seconds: 59}},
		{"more than a day", 25*time.Hour + 2*time.Second, Elapsed{Hours: 25, Seconds: 2}},
		{"negative counts as zero", -5 * time.Second, Elapsed{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewElapsed(tt.d)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Error(diff)
			}
		})
	}
}

func TestElapsedString(t *testing.T) {
	if got := (Elapsed{Hours: 1, Minutes: 2, Seconds: 3}).String(); got != "01:02:03" {
		t.Errorf("got %s", got)
	}
	if got := NewElapsed(3661 * time.Second).Duration(); got != 3661*time.Second {
		t.Errorf("got %v", got)
	}
}

func TestStatusString(t *testing.T) {
	want := map[Status]string{
		StatusDisconnected:  "disconnected",
		StatusConnecting:    "connecting",
		StatusConnected:     "connected",
		StatusDisconnecting: "disconnecting",
		StatusFailed:        "failed",
		Status(42):          "invalid",
	}
	for s, w := range want {
		if s.String() != w {
			t.Errorf("%d: got %s want %s", int(s), s, w)
		}
	}
}

func TestConnectionStateJSON(t *testing.T) {
	st := ConnectionState{
		Status:    StatusFailed,
		StartedAt: optional.None[time.Time](),
		LastError: platerrors.New(platerrors.VPNPermissionNotGranted, "denied"),
	}
	data, err := json.Marshal(st)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"status":"failed","startedAt":null,"lastError":{"code":"ERR_VPN_PERMISSION_NOT_GRANTED","message":"denied"},"operationInFlight":false,"elapsed":{"hours":0,"minutes":0,"seconds":0}}`
	if string(data) != want {
		t.Errorf("got %s\nwant %s", data, want)
	}
}

func TestTestLogger(t *testing.T) {
	tl := NewTestLogger()
	tl.Infof("a %d", 1)
	tl.Warn("b")
	if diff := cmp.Diff([]string{"a 1", "b"}, tl.Lines()); diff != "" {
		t.Error(diff)
	}
}
