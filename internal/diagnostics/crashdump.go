package diagnostics

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/marketflow/internal/fsutil"
	"github.com/hugo-lorenzo-mato/marketflow/internal/logging"
)

// CrashDump is the post-mortem record of a panic.
type CrashDump struct {
	Timestamp  time.Time `json:"timestamp"`
	ProcessID  int       `json:"process_id"`
	GoVersion  string    `json:"go_version"`
	GOOS       string    `json:"goos"`
	GOARCH     string    `json:"goarch"`
	Command    []string  `json:"command"`
	PanicValue string    `json:"panic_value"`
	StackTrace string    `json:"stack_trace,omitempty"`

	RunID string `json:"run_id,omitempty"`
	Agent string `json:"agent,omitempty"`

	RedactedEnv map[string]string `json:"redacted_env,omitempty"`
}

// DefaultCrashDir is where crash dumps are kept unless configured.
const DefaultCrashDir = ".marketflow/crashdumps"

// CrashDumpWriter writes crash dumps and keeps the newest maxFiles.
type CrashDumpWriter struct {
	dir        string
	maxFiles   int
	includeEnv bool
	logger     *logging.Logger

	mu    sync.Mutex
	runID string
	agent string
}

// NewCrashDumpWriter creates a writer storing dumps in dir.
func NewCrashDumpWriter(dir string, maxFiles int, includeEnv bool, logger *logging.Logger) *CrashDumpWriter {
	if maxFiles <= 0 {
		maxFiles = 10
	}
	if dir == "" {
		dir = DefaultCrashDir
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &CrashDumpWriter{dir: dir, maxFiles: maxFiles, includeEnv: includeEnv, logger: logger}
}

// Dir returns the dump directory.
func (w *CrashDumpWriter) Dir() string { return w.dir }

// SetContext records the run and agent in progress.
func (w *CrashDumpWriter) SetContext(runID, agent string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.runID, w.agent = runID, agent
}

// Write persists a dump for panicValue and returns its path.
func (w *CrashDumpWriter) Write(panicValue interface{}) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	dump := CrashDump{
		Timestamp:  time.Now().UTC(),
		ProcessID:  os.Getpid(),
		GoVersion:  runtime.Version(),
		GOOS:       runtime.GOOS,
		GOARCH:     runtime.GOARCH,
		Command:    os.Args,
		PanicValue: fmt.Sprintf("%v", panicValue),
		StackTrace: string(debug.Stack()),
		RunID:      w.runID,
		Agent:      w.agent,
	}
	if w.includeEnv {
		dump.RedactedEnv = redactEnvironment(os.Environ())
	}

	data, err := json.MarshalIndent(dump, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling crash dump: %w", err)
	}
	name := fmt.Sprintf("crash-%s-%09d.json", dump.Timestamp.Format("2006-01-02T15-04-05"), dump.Timestamp.Nanosecond())
	path := filepath.Join(w.dir, name)
	if err := fsutil.WriteFileAtomicMkdir(path, data, 0o600); err != nil {
		return "", fmt.Errorf("writing crash dump: %w", err)
	}
	w.prune()
	return path, nil
}

// RecoverAndDump writes a dump for an in-flight panic and re-panics.
// Usage: defer writer.RecoverAndDump()
func (w *CrashDumpWriter) RecoverAndDump() {
	if r := recover(); r != nil {
		if path, err := w.Write(r); err != nil {
			w.logger.Error("failed to write crash dump", "error", err, "panic", r)
		} else {
			w.logger.Error("crash dump written", "path", path, "panic", r)
		}
		panic(r)
	}
}

func (w *CrashDumpWriter) prune() {
	dumps := listDumps(w.dir)
	for len(dumps) > w.maxFiles {
		path := filepath.Join(w.dir, dumps[0].Name())
		if err := os.Remove(path); err != nil {
			w.logger.Warn("failed to remove old crash dump", "path", path, "error", err)
		}
		dumps = dumps[1:]
	}
}

// listDumps returns crash dump entries, oldest first.
func listDumps(dir string) []os.DirEntry {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var dumps []os.DirEntry
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "crash-") && strings.HasSuffix(e.Name(), ".json") {
			dumps = append(dumps, e)
		}
	}
	// Names embed the timestamp, so lexical order is chronological.
	sort.Slice(dumps, func(i, j int) bool { return dumps[i].Name() < dumps[j].Name() })
	return dumps
}

var sensitiveEnv = []string{"TOKEN", "KEY", "SECRET", "PASSWORD", "CREDENTIAL", "AUTH", "PRIVATE"}

func redactEnvironment(environ []string) map[string]string {
	out := make(map[string]string, len(environ))
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		upper := strings.ToUpper(key)
		for _, s := range sensitiveEnv {
			if strings.Contains(upper, s) {
				value = "[REDACTED]"
				break
			}
		}
		out[key] = value
	}
	return out
}

// LoadLatestCrashDump reads the newest dump in dir.
func LoadLatestCrashDump(dir string) (*CrashDump, error) {
	dumps := listDumps(dir)
	if len(dumps) == 0 {
		return nil, fmt.Errorf("no crash dumps found in %s", dir)
	}
	data, err := fsutil.ReadFileScoped(filepath.Join(dir, dumps[len(dumps)-1].Name()))
	if err != nil {
		return nil, fmt.Errorf("reading crash dump: %w", err)
	}
	var dump CrashDump
	if err := json.Unmarshal(data, &dump); err != nil {
		return nil, fmt.Errorf("parsing crash dump: %w", err)
	}
	return &dump, nil
}
