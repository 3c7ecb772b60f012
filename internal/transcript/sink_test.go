package transcript

import (
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conversations.txt")
	s := NewFileSink(path)

	t.Run("read before first write is empty", func(t *testing.T) {
		got, err := s.ReadAll()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if got != "" {
			t.Errorf("expected empty transcript, got %q", got)
		}
	})

	t.Run("appends role-prefixed lines", func(t *testing.T) {
		if err := s.Append("caller", "There's a fire at 12 Oak St"); err != nil {
			t.Fatalf("append: %v", err)
		}
		if err := s.Append("operator", "Help is on the way"); err != nil {
			t.Fatalf("append: %v", err)
		}

		got, err := s.ReadAll()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		want := "caller: There's a fire at 12 Oak St\noperator: Help is on the way\n"
		if got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	})

	t.Run("flattens embedded newlines", func(t *testing.T) {
		if err := s.Reset(); err != nil {
			t.Fatalf("reset: %v", err)
		}
		if err := s.Append("caller", "line one\nline two"); err != nil {
			t.Fatalf("append: %v", err)
		}
		got, _ := s.ReadAll()
		if strings.Count(got, "\n") != 1 {
			t.Errorf("expected one line, got %q", got)
		}
	})

	t.Run("reset truncates", func(t *testing.T) {
		if err := s.Reset(); err != nil {
			t.Fatalf("reset: %v", err)
		}
		got, _ := s.ReadAll()
		if got != "" {
			t.Errorf("expected empty transcript after reset, got %q", got)
		}
	})
}

func TestBufferConcurrentAppend(t *testing.T) {
	var b Buffer
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_ = b.Append("caller", "hello")
			}
		}()
	}
	wg.Wait()

	got, _ := b.ReadAll()
	if n := strings.Count(got, "\n"); n != 200 {
		t.Errorf("expected 200 lines, got %d", n)
	}
}

func TestParseTurns(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []Turn
	}{
		{
			name: "two turns",
			in:   "caller: help\noperator: on the way\n",
			want: []Turn{{"caller", "help"}, {"operator", "on the way"}},
		},
		{
			name: "blank lines ignored",
			in:   "caller: help\n\n\noperator: ok\n",
			want: []Turn{{"caller", "help"}, {"operator", "ok"}},
		},
		{
			name: "continuation line joins previous turn",
			in:   "caller: my address is\n12 Oak St\n",
			want: []Turn{{"caller", "my address is 12 Oak St"}},
		},
		{
			name: "leading garbage without a turn is dropped",
			in:   "noise without prefix\ncaller: hello\n",
			want: []Turn{{"caller", "hello"}},
		},
		{
			name: "empty input",
			in:   "",
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseTurns(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d turns, want %d: %+v", len(got), len(tt.want), got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("turn %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}
