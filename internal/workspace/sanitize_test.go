package workspace

import (
	"strings"
	"testing"
)

func TestSanitizeName_ControlChars(t *testing.T) {
	got := SanitizeName(" A\nB\rC\tD\x00 ", 100)
	if strings.ContainsAny(got, "\n\r\t\x00") {
		t.Fatalf("sanitize output contains control chars: %q", got)
	}
	if got != "_ABCD_" {
		t.Fatalf("SanitizeName control char behavior mismatch, got %q", got)
	}
}

func TestSanitizeName_MaxLength(t *testing.T) {
	got := SanitizeName("abcdefghijklmnopqrstuvwxyz", 10)
	if len([]rune(got)) != 10 {
		t.Fatalf("expected length 10, got %d (%q)", len([]rune(got)), got)
	}
}

func TestSanitizeName_SeparatorsReplaced(t *testing.T) {
	got := SanitizeName("cam 01/clip:2.mp4", 100)
	if got != "cam_01_clip_2.mp4" {
		t.Fatalf("SanitizeName separator replacement mismatch: got %q", got)
	}
}

func TestSanitizeName_NeverEmptyOrDots(t *testing.T) {
	for _, in := range []string{"", "..", ".", "\x00"} {
		if got := SanitizeName(in, 10); got != "_" {
			t.Fatalf("SanitizeName(%q) = %q, want _", in, got)
		}
	}
}
