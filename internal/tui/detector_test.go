package tui

import "testing"

func testDetector(env map[string]string, tty bool) *Detector {
	return &Detector{
		getenv: func(k string) string { return env[k] },
		isTTY:  func() bool { return tty },
	}
}

func TestDetector_Detect(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		tty     bool
		wantTUI bool
		want    OutputMode
	}{
		{"tty with tui", nil, true, true, ModeTUI},
		{"tty without tui", nil, true, false, ModePlain},
		{"pipe", nil, false, true, ModePlain},
		{"ci", map[string]string{"CI": "1"}, true, true, ModePlain},
		{"env json", map[string]string{"MARKETFLOW_OUTPUT": "json"}, true, true, ModeJSON},
		{"env quiet", map[string]string{"MARKETFLOW_OUTPUT": "quiet"}, true, true, ModeQuiet},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := testDetector(tt.env, tt.tty).Detect(tt.wantTUI); got != tt.want {
				t.Errorf("Detect() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDetector_ForceMode(t *testing.T) {
	d := testDetector(map[string]string{"CI": "1"}, false).ForceMode(ModeJSON)
	if got := d.Detect(true); got != ModeJSON {
		t.Errorf("Detect() = %v, want json", got)
	}
}

func TestDetector_ShouldUseColor(t *testing.T) {
	if testDetector(map[string]string{"NO_COLOR": "1"}, true).ShouldUseColor() {
		t.Error("NO_COLOR should disable color")
	}
	if !testDetector(nil, true).ShouldUseColor() {
		t.Error("tty should enable color")
	}
	if testDetector(nil, false).ShouldUseColor() {
		t.Error("pipe should disable color")
	}
}

func TestParseOutputMode(t *testing.T) {
	for in, want := range map[string]OutputMode{"tui": ModeTUI, "json": ModeJSON, "quiet": ModeQuiet, "x": ModePlain} {
		if got := ParseOutputMode(in); got != want {
			t.Errorf("ParseOutputMode(%q) = %v, want %v", in, got, want)
		}
	}
}
