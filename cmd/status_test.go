package main

import "testing"

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		seconds int64
		want    string
	}{
		{5, "5s"},
		{65, "1m 5s"},
		{3600, "1h 0m 0s"},
		{9065, "2h 31m 5s"},
	}

	for _, tt := range tests {
		if got := formatUptime(tt.seconds); got != tt.want {
			t.Errorf("formatUptime(%d) = %q, want %q", tt.seconds, got, tt.want)
		}
	}
}
