package input

import (
	"strings"
	"testing"
	"time"

	"alarmd/internal/alarm"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestParseLineVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		line string
		want alarm.Request
	}{
		{
			name: "start",
			line: "Start_Alarm(1): 7 5 1 hello",
			want: alarm.Request{Kind: alarm.KindStart, ID: 1, Group: 7,
				Duration: 5 * time.Second, Interval: time.Second, Message: "hello", At: now},
		},
		{
			name: "start multiword message",
			line: "Start_Alarm(12): 0 3600 60 take the bread out",
			want: alarm.Request{Kind: alarm.KindStart, ID: 12, Group: 0,
				Duration: 3600 * time.Second, Interval: 60 * time.Second,
				Message: "take the bread out", At: now},
		},
		{
			name: "change",
			line: "Change_Alarm(1): 4 20 2 x",
			want: alarm.Request{Kind: alarm.KindChange, ID: 1, Group: 4,
				Duration: 20 * time.Second, Interval: 2 * time.Second, Message: "x", At: now},
		},
		{
			name: "cancel",
			line: "Cancel_Alarm(3)",
			want: alarm.Request{Kind: alarm.KindCancel, ID: 3, At: now},
		},
		{
			name: "suspend",
			line: "Suspend_Alarm(3)",
			want: alarm.Request{Kind: alarm.KindSuspend, ID: 3, At: now},
		},
		{
			name: "reactivate",
			line: "Reactivate_Alarm(3)",
			want: alarm.Request{Kind: alarm.KindResume, ID: 3, At: now},
		},
		{
			name: "view",
			line: "View_Alarms",
			want: alarm.Request{Kind: alarm.KindView, At: now},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseLine(tt.line, now)
			if err != nil {
				t.Fatalf("ParseLine(%q): %v", tt.line, err)
			}
			if got != tt.want {
				t.Fatalf("ParseLine(%q) = %+v, want %+v", tt.line, got, tt.want)
			}
		})
	}
}

func TestParseLineRejects(t *testing.T) {
	t.Parallel()
	lines := []string{
		"",
		"nonsense",
		"Start_Alarm(1) 7 5 1 hello",      // missing colon
		"Start_Alarm(1): 7 5 hello",       // missing interval
		"Start_Alarm(1): 7 5 0 hello",     // interval must be >= 1
		"Start_Alarm(0): 7 5 1 hello",     // id must be positive
		"Start_Alarm(-1): 7 5 1 hello",    // negative id never matches
		"Start_Alarm(1): -7 5 1 hello",    // negative group never matches
		"Cancel_Alarm()",                  // missing id
		"Cancel_Alarm(abc)",               // non-numeric id
		"Suspend_Alarm",                   // missing argument
		"View_Alarms extra",               // trailing tokens
		"Start_Alarm(1): 7 5 1 " + strings.Repeat("m", alarm.MaxMessageLen+1),
		"Start_Alarm(1): 7 5 1 bad\x01byte",
	}
	for _, line := range lines {
		if _, err := ParseLine(line, now); err == nil {
			t.Errorf("ParseLine(%q) accepted, want error", line)
		}
	}
}
