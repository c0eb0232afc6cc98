package health

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"tradearena/internal/httputil"
)

// Pinger is a dependency the engine cannot serve without (the ledger
// database) or degrades without (the sweep lock).
type Pinger interface {
	Ping(ctx context.Context) error
}

type Dependency struct {
	Name     string
	Pinger   Pinger
	Optional bool
}

type Handler struct {
	deps      []Dependency
	startedAt time.Time
	httpAddr  string
	driver    string
	timeout   time.Duration
}

func NewHandler(startedAt time.Time, httpAddr, driver string, deps ...Dependency) *Handler {
	start := startedAt.UTC()
	if start.IsZero() {
		start = time.Now().UTC()
	}
	return &Handler{
		deps:      deps,
		startedAt: start,
		httpAddr:  strings.TrimSpace(httpAddr),
		driver:    driver,
		timeout:   time.Second,
	}
}

type depStatus struct {
	Reachable bool   `json:"reachable"`
	Optional  bool   `json:"optional,omitempty"`
	PingMs    int64  `json:"ping_ms"`
	Error     string `json:"error,omitempty"`
}

type readinessResponse struct {
	Status       string               `json:"status"`
	Timestamp    string               `json:"timestamp"`
	UptimeSec    int64                `json:"uptime_sec"`
	Uptime       string               `json:"uptime"`
	Dependencies map[string]depStatus `json:"dependencies"`
}

type fullResponse struct {
	readinessResponse
	App     appStats     `json:"app"`
	Process processStats `json:"process"`
	Runtime runtimeStats `json:"runtime"`
	Build   buildStats   `json:"build"`
}

type appStats struct {
	HTTPAddr     string `json:"http_addr"`
	LedgerDriver string `json:"ledger_driver"`
}

type processStats struct {
	PID      int    `json:"pid"`
	Hostname string `json:"hostname"`
}

type runtimeStats struct {
	GoVersion      string `json:"go_version"`
	Goroutines     int    `json:"goroutines"`
	GoMaxProcs     int    `json:"gomaxprocs"`
	HeapAllocBytes uint64 `json:"heap_alloc_bytes"`
	SysBytes       uint64 `json:"sys_bytes"`
	NumGC          uint32 `json:"num_gc"`
}

type buildStats struct {
	MainPath string `json:"main_path,omitempty"`
	Version  string `json:"version,omitempty"`
}

func (h *Handler) uptime(now time.Time) time.Duration {
	uptime := now.Sub(h.startedAt)
	if uptime < 0 {
		return 0
	}
	return uptime
}

// check pings every dependency concurrently. A failing required dependency
// makes the process unready.
func (h *Handler) check(ctx context.Context) (readinessResponse, int) {
	now := time.Now().UTC()
	uptime := h.uptime(now)
	resp := readinessResponse{
		Status:       "ok",
		Timestamp:    now.Format(time.RFC3339),
		UptimeSec:    int64(uptime.Seconds()),
		Uptime:       uptime.String(),
		Dependencies: make(map[string]depStatus, len(h.deps)),
	}
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, dep := range h.deps {
		dep := dep
		wg.Add(1)
		go func() {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, h.timeout)
			defer cancel()
			start := time.Now()
			err := dep.Pinger.Ping(pctx)
			st := depStatus{Reachable: err == nil, Optional: dep.Optional, PingMs: time.Since(start).Milliseconds()}
			if err != nil {
				st.Error = err.Error()
			}
			mu.Lock()
			resp.Dependencies[dep.Name] = st
			mu.Unlock()
		}()
	}
	wg.Wait()

	status := http.StatusOK
	for _, st := range resp.Dependencies {
		if st.Reachable {
			continue
		}
		if st.Optional {
			if resp.Status == "ok" {
				resp.Status = "degraded"
			}
			continue
		}
		resp.Status = "down"
		status = http.StatusServiceUnavailable
	}
	return resp, status
}

// Live does not touch dependencies.
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	uptime := h.uptime(now)
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"timestamp":  now.Format(time.RFC3339),
		"uptime_sec": int64(uptime.Seconds()),
	})
}

func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	resp, status := h.check(r.Context())
	httputil.WriteJSON(w, status, resp)
}

// Full adds process diagnostics. Mounted behind the internal token.
func (h *Handler) Full(w http.ResponseWriter, r *http.Request) {
	ready, status := h.check(r.Context())
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	resp := fullResponse{
		readinessResponse: ready,
		App:               appStats{HTTPAddr: h.httpAddr, LedgerDriver: h.driver},
		Process:           processStats{PID: os.Getpid()},
		Runtime: runtimeStats{
			GoVersion:      runtime.Version(),
			Goroutines:     runtime.NumGoroutine(),
			GoMaxProcs:     runtime.GOMAXPROCS(0),
			HeapAllocBytes: mem.HeapAlloc,
			SysBytes:       mem.Sys,
			NumGC:          mem.NumGC,
		},
	}
	if host, err := os.Hostname(); err == nil {
		resp.Process.Hostname = host
	}
	if info, ok := debug.ReadBuildInfo(); ok && info != nil {
		resp.Build = buildStats{MainPath: info.Main.Path, Version: info.Main.Version}
	}
	httputil.WriteJSON(w, status, resp)
}
