package utils

import (
	"testing"
)

func TestTruncate(t *testing.T) {
	if Truncate("hello", 10) != "hello" {
		t.Error("short string unchanged")
	}
	if Truncate("hello world", 5) != "hello..." {
		t.Errorf("got %s", Truncate("hello world", 5))
	}
	if Truncate("x", 0) != "x" {
		t.Error("maxLen 0 returns as-is")
	}
	if got := Truncate("猫が座った", 2); got != "猫が..." {
		t.Errorf("multibyte truncate = %q", got)
	}
}

func TestSingleLine(t *testing.T) {
	if got := SingleLine("a\n  b\tc "); got != "a b c" {
		t.Errorf("SingleLine = %q", got)
	}
}
