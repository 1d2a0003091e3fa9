package redis

import "testing"

func TestKeyNamespacing(t *testing.T) {
	tests := []struct {
		prefix string
		parts  []string
		want   string
	}{
		{"", []string{"signals"}, "signals"},
		{"goldspread:", []string{"signals"}, "goldspread:signals"},
		{"goldspread:", []string{"tick", "latest", "PAXG-XAUT"}, "goldspread:tick:latest:PAXG-XAUT"},
		{"gs:", []string{"ratelimit", "telegram:1001"}, "gs:ratelimit:telegram:1001"},
	}
	for _, tt := range tests {
		c := &Client{prefix: tt.prefix}
		if got := c.key(tt.parts...); got != tt.want {
			t.Errorf("key(%q, %v) = %q, want %q", tt.prefix, tt.parts, got, tt.want)
		}
	}
}

func TestSignalBusDefaultMaxLen(t *testing.T) {
	if got := NewSignalBus(&Client{}, 0).maxLen; got != defaultStreamMaxLen {
		t.Errorf("maxLen = %d", got)
	}
	if got := NewSignalBus(&Client{}, 500).maxLen; got != 500 {
		t.Errorf("maxLen = %d", got)
	}
}
