package ui

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// ANSI256 color codes matching the Ayu palette.
const (
	colorAccent = 74  // blue
	colorCmd    = 250 // light gray
	colorMuted  = 245 // medium gray
	colorOK     = 114 // green
	colorWarn   = 179 // amber
	colorFail   = 203 // red
)

var colorEnabled atomic.Bool

func init() { colorEnabled.Store(true) }

// SetColor turns ANSI output on or off for every Render function.
func SetColor(on bool) { colorEnabled.Store(on) }

func paint(code int, s string) string {
	if !colorEnabled.Load() {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", code, s)
}

// RenderAccent returns s in the accent (blue) color.
func RenderAccent(s string) string { return paint(colorAccent, s) }

// RenderMuted returns s in the muted (gray) color.
func RenderMuted(s string) string { return paint(colorMuted, s) }

// RenderCommand returns s styled as a command name (light gray).
func RenderCommand(s string) string { return paint(colorCmd, s) }

// RenderStatus colors a task status: open is accent, claimed and in_progress
// amber, done green, failed red.
func RenderStatus(status string) string {
	switch status {
	case "open":
		return paint(colorAccent, status)
	case "claimed", "in_progress":
		return paint(colorWarn, status)
	case "done":
		return paint(colorOK, status)
	case "failed":
		return paint(colorFail, status)
	}
	return status
}

// RenderEventType colors an event type by the verb it ends with.
func RenderEventType(eventType string) string {
	switch {
	case strings.HasSuffix(eventType, "_created"), strings.HasSuffix(eventType, "_registered"):
		return paint(colorAccent, eventType)
	case strings.HasSuffix(eventType, "_claimed"):
		return paint(colorWarn, eventType)
	case strings.HasSuffix(eventType, "_completed"), strings.HasSuffix(eventType, "_verified"):
		return paint(colorOK, eventType)
	case strings.HasSuffix(eventType, "_deactivated"):
		return paint(colorFail, eventType)
	}
	return eventType
}
