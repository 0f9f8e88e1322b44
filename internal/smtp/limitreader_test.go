package smtp

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func TestLimitReader(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		max      int64
		wantErr  bool
		wantRead string
	}{
		{"under limit", "hello", 10, false, "hello"},
		{"exactly at limit", "hello", 5, false, "hello"},
		{"over limit", "hello world", 5, true, "hello"},
		{"no limit", "hello world", 0, false, "hello world"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			lr := newLimitReader(strings.NewReader(tt.input), tt.max)
			got, err := io.ReadAll(lr)
			if tt.wantErr {
				if !errors.Is(err, errMessageTooLarge) {
					t.Fatalf("error: got %v, want errMessageTooLarge", err)
				}
				if !lr.exceeded {
					t.Error("exceeded flag not set")
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(got) != tt.wantRead {
				t.Errorf("read: got %q, want %q", got, tt.wantRead)
			}
		})
	}
}
