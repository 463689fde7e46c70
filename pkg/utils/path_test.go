package utils

import (
	"strings"
	"testing"
)

func TestValidateName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		input       string
		wantErr     bool
		errContains string
	}{
		{name: "device name", input: "jimbob_led"},
		{name: "led class name", input: "green:status"},
		{name: "empty", input: "", wantErr: true, errContains: "cannot be empty"},
		{name: "dot", input: ".", wantErr: true, errContains: "reserved"},
		{name: "dot dot", input: "..", wantErr: true, errContains: "reserved"},
		{name: "slash", input: "a/b", wantErr: true, errContains: "separator"},
		{name: "backslash", input: `a\b`, wantErr: true, errContains: "separator"},
		{name: "nul", input: "a\x00b", wantErr: true, errContains: "separator"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if tt.wantErr && !strings.Contains(err.Error(), tt.errContains) {
				t.Errorf("ValidateName(%q) error = %q, want it to contain %q", tt.input, err, tt.errContains)
			}
		})
	}
}

func TestSecureJoin(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		base     string
		elements []string
		want     string
		wantErr  bool
	}{
		{name: "single element", base: "/sys/class/leds", elements: []string{"green"}, want: "/sys/class/leds/green"},
		{name: "nested elements", base: "/run/ledgate", elements: []string{"devices", "240-0.lock"}, want: "/run/ledgate/devices/240-0.lock"},
		{name: "unclean base", base: "/run/ledgate/", elements: []string{"class"}, want: "/run/ledgate/class"},
		{name: "no elements", base: "/run/ledgate", want: "/run/ledgate"},
		{name: "traversal", base: "/sys/class/leds", elements: []string{"..", "..", "etc"}, wantErr: true},
		{name: "sibling prefix", base: "/sys/class/leds", elements: []string{"../leds2"}, wantErr: true},
		{name: "empty base", base: "", elements: []string{"x"}, wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := SecureJoin(tt.base, tt.elements...)
			if (err != nil) != tt.wantErr {
				t.Fatalf("SecureJoin() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("SecureJoin() = %q, want %q", got, tt.want)
			}
		})
	}
}
