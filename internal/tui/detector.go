package tui

import (
	"os"

	"golang.org/x/term"
)

// OutputMode represents how run progress is shown.
type OutputMode int

const (
	// ModeTUI uses the interactive Bubbletea view.
	ModeTUI OutputMode = iota
	// ModePlain prints one line per event.
	ModePlain
	// ModeJSON prints nothing but the final JSON document.
	ModeJSON
	// ModeQuiet suppresses progress output.
	ModeQuiet
)

func (m OutputMode) String() string {
	switch m {
	case ModeTUI:
		return "tui"
	case ModePlain:
		return "plain"
	case ModeJSON:
		return "json"
	case ModeQuiet:
		return "quiet"
	default:
		return "unknown"
	}
}

// Detector determines the appropriate output mode.
type Detector struct {
	forceMode *OutputMode
	getenv    func(string) string
	isTTY     func() bool
}

// NewDetector creates a detector reading the process environment and stdout.
func NewDetector() *Detector {
	return &Detector{
		getenv: os.Getenv,
		isTTY:  func() bool { return term.IsTerminal(int(os.Stdout.Fd())) },
	}
}

// ForceMode forces a specific output mode.
func (d *Detector) ForceMode(mode OutputMode) *Detector {
	d.forceMode = &mode
	return d
}

// Detect determines the output mode. A TUI is only chosen when requested
// and stdout is a terminal outside CI.
func (d *Detector) Detect(wantTUI bool) OutputMode {
	if d.forceMode != nil {
		return *d.forceMode
	}
	switch d.getenv("MARKETFLOW_OUTPUT") {
	case "json":
		return ModeJSON
	case "quiet":
		return ModeQuiet
	case "plain":
		return ModePlain
	}
	if d.getenv("CI") != "" || d.getenv("GITHUB_ACTIONS") != "" {
		return ModePlain
	}
	if wantTUI && d.isTTY() {
		return ModeTUI
	}
	return ModePlain
}

// ShouldUseColor follows the NO_COLOR convention.
func (d *Detector) ShouldUseColor() bool {
	if d.getenv("NO_COLOR") != "" || d.getenv("TERM") == "dumb" {
		return false
	}
	return d.isTTY()
}

// ParseOutputMode parses an output mode name, defaulting to plain.
func ParseOutputMode(s string) OutputMode {
	switch s {
	case "tui":
		return ModeTUI
	case "json":
		return ModeJSON
	case "quiet":
		return ModeQuiet
	default:
		return ModePlain
	}
}
