package prediction

import (
	"fmt"
	"testing"
	"time"
)

func TestChatLog_NewestFirstBounded(t *testing.T) {
	c := NewChatLog(5)
	for i := 1; i <= 8; i++ {
		c.Add(fmt.Sprintf("msg-%d", i), t0.Add(time.Duration(i)*time.Second))
	}

	got := c.Entries()
	if len(got) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(got))
	}
	for i, e := range got {
		want := fmt.Sprintf("msg-%d", 8-i)
		if e.Message != want {
			t.Errorf("entry[%d] = %q, want %q", i, e.Message, want)
		}
	}
}

func TestChatLog_IgnoresBlank(t *testing.T) {
	c := NewChatLog(0) // falls back to default capacity
	if c.Add("   ", t0) {
		t.Fatal("blank message should be ignored")
	}
	if c.Len() != 0 {
		t.Fatalf("expected empty log, got %d", c.Len())
	}
	c.Add(" up 3% by friday ", t0)
	if got := c.Entries()[0].Message; got != "up 3% by friday" {
		t.Fatalf("expected trimmed message, got %q", got)
	}
}

func TestChatLog_EntriesIsCopy(t *testing.T) {
	c := NewChatLog(2)
	c.Add("a", t0)
	e := c.Entries()
	e[0].Message = "changed"
	if c.Entries()[0].Message != "a" {
		t.Fatal("Entries shares memory with the log")
	}
}
