package ui

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestShouldUseColor(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "out"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	tests := []struct {
		name                     string
		noColor, force, clicolor string
		want                     bool
	}{
		{"plain file", "", "", "", false},
		{"forced", "", "1", "", true},
		{"no color wins over force", "1", "1", "", false},
		{"clicolor off", "", "", "0", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("NO_COLOR", tt.noColor)
			t.Setenv("CLICOLOR_FORCE", tt.force)
			t.Setenv("CLICOLOR", tt.clicolor)
			if got := ShouldUseColor(f); got != tt.want {
				t.Errorf("ShouldUseColor = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRender(t *testing.T) {
	t.Cleanup(func() { SetColor(true) })

	SetColor(false)
	if got := RenderStatus("done"); got != "done" {
		t.Errorf("RenderStatus without color = %q", got)
	}
	if got := RenderEventType("task_claimed"); got != "task_claimed" {
		t.Errorf("RenderEventType without color = %q", got)
	}

	SetColor(true)
	if got := RenderStatus("failed"); !strings.Contains(got, "\x1b[38;5;203m") {
		t.Errorf("RenderStatus(failed) = %q", got)
	}
	if got := RenderEventType("claim_created"); !strings.Contains(got, "\x1b[38;5;74m") {
		t.Errorf("RenderEventType(claim_created) = %q", got)
	}
	if got := RenderEventType("something_else"); got != "something_else" {
		t.Errorf("unknown event type should be plain, got %q", got)
	}
}
