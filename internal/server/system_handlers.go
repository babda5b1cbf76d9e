package server

import (
	"context"
	"net/http"
	"runtime"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/allocator/internal/database"
)

// SweepTracker reports the sweeps currently running
type SweepTracker interface {
	Active() []string
}

// JobRunner lists and triggers scheduled jobs
type JobRunner interface {
	Jobs() []string
	RunNow(name string) error
}

// SystemHandlers handles system-wide monitoring and operations endpoints
type SystemHandlers struct {
	log         zerolog.Logger
	startupTime time.Time
	databases   []*database.DB
	sweeps      SweepTracker
	jobs        JobRunner
}

// NewSystemHandlers creates a new system handlers instance
func NewSystemHandlers(log zerolog.Logger, databases []*database.DB, sweeps SweepTracker, jobs JobRunner) *SystemHandlers {
	return &SystemHandlers{
		log:         log.With().Str("component", "system_handlers").Logger(),
		startupTime: time.Now(),
		databases:   databases,
		sweeps:      sweeps,
		jobs:        jobs,
	}
}

// SystemStatusResponse represents system status
type SystemStatusResponse struct {
	Status        string     `json:"status"`
	StartedAt     string     `json:"started_at"`
	UptimeSeconds int64      `json:"uptime_seconds"`
	CPUPercent    float64    `json:"cpu_percent"`
	MemoryPercent float64    `json:"memory_percent"`
	Goroutines    int        `json:"goroutines"`
	ActiveSweeps  int        `json:"active_sweeps"`
	Databases     []DBStatus `json:"databases"`
}

// DBStatus represents the health of a single database
type DBStatus struct {
	Name      string  `json:"name"`
	Healthy   bool    `json:"healthy"`
	SizeMB    float64 `json:"size_mb"`
	WALSizeMB float64 `json:"wal_size_mb"`
	Error     string  `json:"error,omitempty"`
}

// GetSystemStatusSnapshot returns a snapshot of the current system status.
// Any unhealthy database marks the whole system degraded.
func (h *SystemHandlers) GetSystemStatusSnapshot(ctx context.Context) SystemStatusResponse {
	cpuPercent, memPercent := h.getSystemStats()

	response := SystemStatusResponse{
		Status:        "healthy",
		StartedAt:     h.startupTime.UTC().Format(time.RFC3339),
		UptimeSeconds: int64(time.Since(h.startupTime).Seconds()),
		CPUPercent:    cpuPercent,
		MemoryPercent: memPercent,
		Goroutines:    runtime.NumGoroutine(),
		Databases:     make([]DBStatus, 0, len(h.databases)),
	}
	if h.sweeps != nil {
		response.ActiveSweeps = len(h.sweeps.Active())
	}

	for _, db := range h.databases {
		status := DBStatus{Name: db.Name(), Healthy: true}
		if err := db.QuickCheck(ctx); err != nil {
			h.log.Warn().Err(err).Str("database", db.Name()).Msg("Database quick check failed")
			status.Healthy = false
			status.Error = err.Error()
			response.Status = "degraded"
		}
		if stats, err := db.GetStats(); err == nil {
			status.SizeMB = float64(stats.SizeBytes) / 1024 / 1024
			status.WALSizeMB = float64(stats.WALSizeBytes) / 1024 / 1024
		}
		response.Databases = append(response.Databases, status)
	}

	return response
}

// HandleSystemStatus returns comprehensive system status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	h.log.Debug().Msg("Getting system status")
	writeJSON(w, http.StatusOK, h.GetSystemStatusSnapshot(r.Context()), h.log)
}

// HandleJobsStatus lists the scheduled jobs
func (h *SystemHandlers) HandleJobsStatus(w http.ResponseWriter, r *http.Request) {
	names := []string{}
	if h.jobs != nil {
		names = h.jobs.Jobs()
	}
	sort.Strings(names)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  names,
		"count": len(names),
	}, h.log)
}

// HandleTriggerJob runs a scheduled job immediately in the background
// POST /api/system/jobs/{name}
func (h *SystemHandlers) HandleTriggerJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if h.jobs == nil || !h.hasJob(name) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown job: " + name}, h.log)
		return
	}

	go func() {
		if err := h.jobs.RunNow(name); err != nil {
			h.log.Error().Err(err).Str("job", name).Msg("Triggered job failed")
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "triggered",
		"job":    name,
	}, h.log)
}

func (h *SystemHandlers) hasJob(name string) bool {
	for _, job := range h.jobs.Jobs() {
		if job == name {
			return true
		}
	}
	return false
}

// getSystemStats calculates CPU and RAM usage percentages
// Samples CPU over 100ms so the status call stays responsive
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	return cpuAvg, memStat.UsedPercent
}
