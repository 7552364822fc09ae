package truncation

import "testing"
import "strings"

func TestToolTruncationMessageRequiredPhrases(t *testing.T) {
	msg := ToolTruncationMessage("write_file")
	lower := strings.ToLower(msg)

	if !strings.Contains(msg, "[API Limitation]") {
		t.Error("missing exact-case marker [API Limitation]")
	}
	for _, want := range []string{"truncated", "upstream api", "output size limits", "consequence", "repeating", "adapt"} {
		if !strings.Contains(lower, want) {
			t.Errorf("message missing required phrase %q: %s", want, msg)
		}
	}
	if !strings.Contains(lower, "if") && !strings.Contains(lower, "likely") {
		t.Error("message missing conditional language (\"if\" or \"likely\")")
	}

	forbidden := []string{
		"break into smaller", "split the file", "write in chunks",
		"reduce the size", "make it shorter", "use multiple calls",
	}
	for _, bad := range forbidden {
		if strings.Contains(lower, bad) {
			t.Errorf("message contains forbidden phrase %q", bad)
		}
	}
}

func TestContentTruncationMessageRequiredPhrases(t *testing.T) {
	msg := ContentTruncationMessage
	lower := strings.ToLower(msg)

	if !strings.Contains(msg, "[System Notice]") {
		t.Error("missing exact-case marker [System Notice]")
	}
	for _, want := range []string{"truncated", "api", "adapt"} {
		if !strings.Contains(lower, want) {
			t.Errorf("message missing required phrase %q", want)
		}
	}
	if !strings.Contains(lower, "output size") && !strings.Contains(lower, "size limit") {
		t.Error("message missing size-limit language")
	}
	if !strings.Contains(lower, "not an error on your part") && !strings.Contains(lower, "not your fault") {
		t.Error("message missing not-your-fault language")
	}

	forbidden := []string{
		"break into steps", "step by step", "one step at a time", "smaller steps", "incremental",
	}
	for _, bad := range forbidden {
		if strings.Contains(lower, bad) {
			t.Errorf("message contains forbidden phrase %q", bad)
		}
	}
}

func TestContentTruncationMessageDeterministic(t *testing.T) {
	if ContentTruncationMessage != ContentTruncationMessage {
		t.Fatal("unreachable")
	}
	a := ContentTruncationMessage
	b := ContentTruncationMessage
	if a != b {
		t.Fatal("expected byte-identical message across references")
	}
}
