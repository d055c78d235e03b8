package main

import (
	"strings"
	"testing"
)

func TestWSEndpoint(t *testing.T) {
	tests := []struct {
		server  string
		want    string
		wantErr bool
	}{
		{"http://localhost:8191", "ws://localhost:8191/ws/scrape/ab12cd34", false},
		{"https://scrape.example.com", "wss://scrape.example.com/ws/scrape/ab12cd34", false},
		{"ws://localhost:8191", "ws://localhost:8191/ws/scrape/ab12cd34", false},
		{"ftp://nope", "", true},
	}
	for _, tt := range tests {
		got, err := wsEndpoint(tt.server, "ab12cd34")
		if tt.wantErr {
			if err == nil {
				t.Errorf("wsEndpoint(%q) expected error", tt.server)
			}
			continue
		}
		if err != nil {
			t.Errorf("wsEndpoint(%q) error: %v", tt.server, err)
			continue
		}
		if got != tt.want {
			t.Errorf("wsEndpoint(%q) = %q, want %q", tt.server, got, tt.want)
		}
	}
}

func TestRenderBarBounds(t *testing.T) {
	for _, pct := range []int{-5, 0, 50, 100, 150} {
		bar := renderBar(pct, 10)
		cells := strings.Count(bar, "█") + strings.Count(bar, "░")
		if cells != 10 {
			t.Errorf("renderBar(%d, 10) rendered %d cells", pct, cells)
		}
	}
}
