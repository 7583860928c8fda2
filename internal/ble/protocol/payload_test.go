package protocol

import (
	"errors"
	"strings"
	"testing"
)

func TestEncodeTextRawBytes(t *testing.T) {
	got, err := EncodeText("hello", 0)
	if err != nil {
		t.Fatalf("EncodeText() error = %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("EncodeText() = %q, want %q", got, "hello")
	}
}

func TestEncodeTextMultibyte(t *testing.T) {
	text := "héllo \U0001F600"
	got, err := EncodeText(text, 0)
	if err != nil {
		t.Fatalf("EncodeText() error = %v", err)
	}
	if len(got) != len(text) {
		t.Errorf("len = %d, want %d (no framing bytes)", len(got), len(text))
	}
}

func TestEncodeTextEmpty(t *testing.T) {
	got, err := EncodeText("", 0)
	if err != nil {
		t.Fatalf("EncodeText() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("len = %d, want 0", len(got))
	}
}

func TestEncodeTextInvalidUTF8(t *testing.T) {
	_, err := EncodeText("bad \xff\xfe", 0)
	if !errors.Is(err, ErrInvalidText) {
		t.Fatalf("EncodeText() error = %v, want ErrInvalidText", err)
	}
}

func TestEncodeTextLimit(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		max     int
		wantErr bool
	}{
		{"under limit", 20, 20, false},
		{"over limit", 21, 20, true},
		{"default limit fits", MaxAttributeLen, 0, false},
		{"default limit exceeded", MaxAttributeLen + 1, 0, true},
		{"limit clamped to attribute max", MaxAttributeLen + 1, 4096, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := EncodeText(strings.Repeat("a", tt.size), tt.max)
			if (err != nil) != tt.wantErr {
				t.Fatalf("EncodeText() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrTooLarge) {
				t.Errorf("error = %v, want ErrTooLarge", err)
			}
		})
	}
}

func TestCut(t *testing.T) {
	tests := []struct {
		name string
		text string
		max  int
		want string
	}{
		{"fits", "hello", 10, "hello"},
		{"exact", "hello", 5, "hello"},
		{"ascii", "hello world", 5, "hello"},
		{"zero", "hello", 0, ""},
		// Each emoji is 4 bytes; 6 bytes fits one.
		{"never splits a rune", "\U0001F600\U0001F601", 6, "\U0001F600"},
		{"two-byte rune", "ééé", 3, "é"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Cut(tt.text, tt.max); got != tt.want {
				t.Errorf("Cut(%q, %d) = %q, want %q", tt.text, tt.max, got, tt.want)
			}
		})
	}
}
