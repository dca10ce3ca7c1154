// Package clip copies run reports to the clipboard, falling back to the
// terminal and then to a file.
package clip

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	atotto "github.com/atotto/clipboard"
	osc52 "github.com/aymanbagabas/go-osc52/v2"
	"golang.org/x/term"
)

// Method is the mechanism that made the content copyable.
type Method string

const (
	MethodNative Method = "native" // atotto/clipboard
	MethodOSC52  Method = "osc52"  // terminal escape sequence
	MethodFile   Method = "file"   // nothing reachable, content left in a file
)

// Result reports how the content was delivered.
type Result struct {
	Method   Method
	FilePath string // set when Method == MethodFile
}

// osc52Limit bounds payloads; terminals silently drop larger ones.
const osc52Limit = 100_000

// Copier tries each mechanism in turn.
type Copier struct {
	native   func(string) error
	terminal io.Writer
	isTTY    func() bool
	getenv   func(string) string
	tempDir  string
}

// New returns a copier that writes escape sequences to stderr.
func New() *Copier {
	return &Copier{
		native:   atotto.WriteAll,
		terminal: os.Stderr,
		isTTY:    func() bool { return term.IsTerminal(int(os.Stderr.Fd())) },
		getenv:   os.Getenv,
	}
}

// Copy delivers text. existing, when non-empty, names a file that already
// holds text and is returned instead of writing a new one.
func (c *Copier) Copy(text, existing string) (Result, error) {
	if text == "" {
		return Result{}, errors.New("nothing to copy")
	}
	if c.native != nil && c.native(text) == nil {
		return Result{Method: MethodNative}, nil
	}
	if c.writeOSC52(text) == nil {
		return Result{Method: MethodOSC52}, nil
	}
	if existing != "" {
		if _, err := os.Stat(existing); err == nil {
			return Result{Method: MethodFile, FilePath: existing}, nil
		}
	}
	path, err := c.writeTemp(text)
	if err != nil {
		return Result{}, err
	}
	return Result{Method: MethodFile, FilePath: path}, nil
}

func (c *Copier) writeOSC52(text string) error {
	if c.terminal == nil || c.isTTY == nil || !c.isTTY() {
		return errors.New("no terminal")
	}
	if len(text) > osc52Limit {
		return fmt.Errorf("text too large for OSC52 (%d bytes > %d)", len(text), osc52Limit)
	}
	seq := osc52.New(text).Limit(osc52Limit)
	switch {
	case c.getenv("TMUX") != "":
		seq = seq.Tmux()
	case c.getenv("STY") != "":
		seq = seq.Screen()
	}
	_, err := seq.WriteTo(c.terminal)
	return err
}

func (c *Copier) writeTemp(text string) (path string, err error) {
	f, err := os.CreateTemp(c.tempDir, "marketflow-report-*.md")
	if err != nil {
		return "", err
	}
	path = filepath.Clean(f.Name())
	defer func() {
		if err != nil {
			_ = os.Remove(path)
		}
	}()
	if _, err = f.WriteString(text); err != nil {
		_ = f.Close()
		return "", err
	}
	if err = f.Close(); err != nil {
		return "", err
	}
	return path, nil
}
