package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/marketflow/internal/adapters/docs"
	"github.com/hugo-lorenzo-mato/marketflow/internal/config"
)

// Status is the verdict of a check.
type Status string

const (
	StatusOK   Status = "ok"
	StatusWarn Status = "warn"
	StatusFail Status = "fail"
)

// Check is one doctor finding.
type Check struct {
	Name   string `json:"name"`
	Status Status `json:"status"`
	Detail string `json:"detail"`
}

// Report is the outcome of a doctor run.
type Report struct {
	Checks []Check  `json:"checks"`
	Host   HostInfo `json:"host"`
}

// Healthy reports whether no check failed.
func (r Report) Healthy() bool {
	for _, c := range r.Checks {
		if c.Status == StatusFail {
			return false
		}
	}
	return true
}

// Thresholds below which host resources are flagged.
const (
	minAvailableMemMB = 256
	minFreeDiskGB     = 1
)

// Doctor checks that a configuration can drive runs on this host.
type Doctor struct {
	cfg      *config.Config
	probe    Probe
	dialNATS func(ctx context.Context, url string) error
	crashDir string
}

// DoctorOption configures a Doctor.
type DoctorOption func(*Doctor)

// WithNATSDialer sets how NATS reachability is checked.
func WithNATSDialer(dial func(ctx context.Context, url string) error) DoctorOption {
	return func(d *Doctor) { d.dialNATS = dial }
}

// WithCrashDir sets where crash dumps are looked up.
func WithCrashDir(dir string) DoctorOption {
	return func(d *Doctor) { d.crashDir = dir }
}

// NewDoctor creates a doctor for cfg. A nil probe uses SystemProbe.
func NewDoctor(cfg *config.Config, probe Probe, opts ...DoctorOption) *Doctor {
	if probe == nil {
		probe = SystemProbe{}
	}
	d := &Doctor{cfg: cfg, probe: probe}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run executes every check.
func (d *Doctor) Run(ctx context.Context) Report {
	cfg := d.cfg
	r := Report{Host: d.probe.Host(ctx, existingParent(cfg.State.Path))}

	r.Checks = append(r.Checks,
		d.checkConfig(),
		checkWritable("state", filepath.Dir(cfg.State.Path)),
		checkWritable("output", cfg.Output.Dir),
		d.checkSearch(),
		d.checkLLM(),
		d.checkDocuments(),
		d.checkNATS(ctx),
		checkMemory(r.Host),
		checkDisk(r.Host),
	)
	if d.crashDir != "" {
		r.Checks = append(r.Checks, checkCrashes(d.crashDir))
	}
	return r
}

func (d *Doctor) checkConfig() Check {
	if err := config.ValidateConfig(d.cfg); err != nil {
		return Check{Name: "config", Status: StatusFail, Detail: err.Error()}
	}
	return Check{Name: "config", Status: StatusOK, Detail: "configuration is valid"}
}

func checkWritable(name, dir string) Check {
	if dir == "" {
		return Check{Name: name, Status: StatusWarn, Detail: "no directory configured, files are not written"}
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return Check{Name: name, Status: StatusFail, Detail: fmt.Sprintf("cannot create %s: %v", dir, err)}
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return Check{Name: name, Status: StatusFail, Detail: fmt.Sprintf("%s is not writable: %v", dir, err)}
	}
	_ = f.Close()
	_ = os.Remove(f.Name())
	return Check{Name: name, Status: StatusOK, Detail: dir}
}

func (d *Doctor) checkSearch() Check {
	c := Check{Name: "search"}
	switch {
	case !d.cfg.Agents.MarketResearcher.Enabled:
		c.Status, c.Detail = StatusOK, "market research disabled"
	case d.cfg.Search.Provider == "none":
		c.Status, c.Detail = StatusWarn, "no search provider, market research will fail"
	case d.cfg.Search.APIKey == "":
		c.Status, c.Detail = StatusWarn, "TAVILY_API_KEY is not set, market research will fail"
	default:
		c.Status, c.Detail = StatusOK, d.cfg.Search.Provider+" at "+d.cfg.Search.BaseURL
	}
	return c
}

func (d *Doctor) checkLLM() Check {
	c := Check{Name: "llm"}
	switch {
	case !d.cfg.LLM.Enabled:
		c.Status, c.Detail = StatusOK, "disabled, summaries are extractive"
	case d.cfg.LLM.APIKey == "":
		c.Status, c.Detail = StatusFail, "enabled but ANTHROPIC_API_KEY is not set"
	default:
		c.Status, c.Detail = StatusOK, d.cfg.LLM.Model
	}
	return c
}

func (d *Doctor) checkDocuments() Check {
	c := Check{Name: "documents"}
	dir := d.cfg.Documents.Dir
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		c.Status, c.Detail = StatusWarn, fmt.Sprintf("%s does not exist, company analysis has no sources", dir)
		return c
	}
	store, err := docs.NewStore(dir, docs.Options{ChunkSize: d.cfg.Documents.ChunkSize, ChunkOverlap: d.cfg.Documents.ChunkOverlap})
	if err != nil {
		c.Status, c.Detail = StatusFail, err.Error()
		return c
	}
	companies := store.Companies()
	if len(companies) == 0 {
		c.Status, c.Detail = StatusWarn, dir+" holds no documents"
		return c
	}
	c.Status = StatusOK
	c.Detail = fmt.Sprintf("%d companies, %d chunks: %s", len(companies), store.ChunkCount(), strings.Join(companies, ", "))
	return c
}

func (d *Doctor) checkNATS(ctx context.Context) Check {
	c := Check{Name: "nats"}
	nc := d.cfg.Events.NATS
	if !nc.Enabled {
		c.Status, c.Detail = StatusOK, "event fan-out disabled"
		return c
	}
	if d.dialNATS == nil {
		c.Status, c.Detail = StatusWarn, "reachability not checked"
		return c
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := d.dialNATS(ctx, nc.URL); err != nil {
		c.Status, c.Detail = StatusWarn, fmt.Sprintf("%s unreachable: %v", nc.URL, err)
		return c
	}
	c.Status, c.Detail = StatusOK, nc.URL
	return c
}

func checkMemory(h HostInfo) Check {
	c := Check{Name: "memory", Status: StatusOK}
	switch {
	case h.MemTotalMB == 0:
		c.Status, c.Detail = StatusWarn, "memory usage unavailable"
	case h.MemAvailableMB < minAvailableMemMB:
		c.Status, c.Detail = StatusWarn, fmt.Sprintf("only %.0f MB available", h.MemAvailableMB)
	default:
		c.Detail = fmt.Sprintf("%.0f of %.0f MB available", h.MemAvailableMB, h.MemTotalMB)
	}
	return c
}

func checkDisk(h HostInfo) Check {
	c := Check{Name: "disk", Status: StatusOK}
	switch {
	case h.DiskPath == "" || (h.DiskFreeGB == 0 && h.DiskPercent == 0):
		c.Status, c.Detail = StatusWarn, "disk usage unavailable"
	case h.DiskFreeGB < minFreeDiskGB:
		c.Status, c.Detail = StatusWarn, fmt.Sprintf("only %.2f GB free on %s", h.DiskFreeGB, h.DiskPath)
	default:
		c.Detail = fmt.Sprintf("%.1f GB free on %s (%.0f%% used)", h.DiskFreeGB, h.DiskPath, h.DiskPercent)
	}
	return c
}

func checkCrashes(dir string) Check {
	dump, err := LoadLatestCrashDump(dir)
	if err != nil {
		return Check{Name: "crashes", Status: StatusOK, Detail: "no crash dumps"}
	}
	detail := fmt.Sprintf("last crash %s: %s", dump.Timestamp.Format(time.RFC3339), dump.PanicValue)
	if dump.RunID != "" {
		detail += " (run " + dump.RunID + ")"
	}
	return Check{Name: "crashes", Status: StatusWarn, Detail: detail}
}

// existingParent returns the closest existing ancestor of path.
func existingParent(path string) string {
	dir := filepath.Dir(path)
	for {
		if _, err := os.Stat(dir); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return dir
		}
		dir = parent
	}
}
