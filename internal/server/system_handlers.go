package server

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/augur/internal/database"
	"github.com/aristath/augur/internal/scheduler"
)

// SystemHandlers serves host statistics and manual job triggers
type SystemHandlers struct {
	log        zerolog.Logger
	dataDir    string
	forecastDB *database.DB
	scheduler  *scheduler.Scheduler
	jobs       map[string]scheduler.Job
	startedAt  time.Time
}

// NewSystemHandlers creates system handlers. sched and jobs may be nil.
func NewSystemHandlers(
	log zerolog.Logger,
	dataDir string,
	forecastDB *database.DB,
	sched *scheduler.Scheduler,
	jobs []scheduler.Job,
) *SystemHandlers {
	byName := make(map[string]scheduler.Job, len(jobs))
	for _, job := range jobs {
		if job != nil {
			byName[job.Name()] = job
		}
	}
	return &SystemHandlers{
		log:        log.With().Str("component", "system_handlers").Logger(),
		dataDir:    dataDir,
		forecastDB: forecastDB,
		scheduler:  sched,
		jobs:       byName,
		startedAt:  time.Now(),
	}
}

// SystemStatsResponse describes host and process resource usage
type SystemStatsResponse struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	MemoryUsedMB  float64 `json:"memory_used_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	HeapAllocMB   float64 `json:"heap_alloc_mb"`
	Goroutines    int     `json:"goroutines"`
	DataDirMB     float64 `json:"data_dir_mb"`
	UptimeSeconds int64   `json:"uptime_seconds"`
}

// HandleSystemStats handles GET /api/system/stats
func (h *SystemHandlers) HandleSystemStats(w http.ResponseWriter, r *http.Request) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	response := SystemStatsResponse{
		HeapAllocMB:   bytesToMB(ms.HeapAlloc),
		Goroutines:    runtime.NumGoroutine(),
		DataDirMB:     h.getDirSize(h.dataDir),
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
	}

	// 100ms sample keeps the call responsive
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
	} else if len(cpuPercent) > 0 {
		response.CPUPercent = cpuPercent[0]
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
	} else {
		response.MemoryPercent = memStat.UsedPercent
		response.MemoryUsedMB = bytesToMB(memStat.Used)
		response.MemoryTotalMB = bytesToMB(memStat.Total)
	}

	h.writeJSON(w, http.StatusOK, response)
}

// HandleDatabaseStats handles GET /api/system/database
func (h *SystemHandlers) HandleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	if h.forecastDB == nil {
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "database not configured"})
		return
	}

	var pageCount, pageSize int64
	conn := h.forecastDB.Conn()
	if err := conn.QueryRowContext(r.Context(), "PRAGMA page_count").Scan(&pageCount); err != nil {
		h.log.Error().Err(err).Msg("Failed to read page count")
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to read database stats"})
		return
	}
	if err := conn.QueryRowContext(r.Context(), "PRAGMA page_size").Scan(&pageSize); err != nil {
		h.log.Error().Err(err).Msg("Failed to read page size")
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to read database stats"})
		return
	}

	var models int
	if err := conn.QueryRowContext(r.Context(), "SELECT COUNT(*) FROM models").Scan(&models); err != nil {
		h.log.Warn().Err(err).Msg("Failed to count models")
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":    h.forecastDB.Name(),
		"profile": h.forecastDB.Profile(),
		"path":    h.forecastDB.Path(),
		"size_mb": float64(pageCount*pageSize) / 1024 / 1024,
		"models":  models,
	})
}

// HandleJobsStatus handles GET /api/system/jobs
func (h *SystemHandlers) HandleJobsStatus(w http.ResponseWriter, r *http.Request) {
	jobs := make([]map[string]interface{}, 0, len(h.jobs))
	for name := range h.jobs {
		entry := map[string]interface{}{"name": name}
		if h.scheduler != nil {
			if next, ok := h.scheduler.NextRun(name); ok && !next.IsZero() {
				entry["next_run"] = next.Format(time.RFC3339)
			}
		}
		jobs = append(jobs, entry)
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs})
}

// HandleTriggerJob handles POST /api/system/jobs/{name}
func (h *SystemHandlers) HandleTriggerJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	job, ok := h.jobs[name]
	if !ok {
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown job"})
		return
	}

	var err error
	if h.scheduler != nil {
		err = h.scheduler.RunNow(job)
	} else {
		err = job.Run()
	}
	if err != nil {
		h.writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"job":   name,
			"error": err.Error(),
		})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"job": name, "status": "completed"})
}

// getDirSize calculates total size of a directory in MB
func (h *SystemHandlers) getDirSize(dirPath string) float64 {
	if dirPath == "" {
		return 0
	}
	var totalSize int64

	err := filepath.Walk(dirPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip errors
		}
		if !info.IsDir() {
			totalSize += info.Size()
		}
		return nil
	})
	if err != nil {
		h.log.Warn().Err(err).Str("dir", dirPath).Msg("Failed to calculate directory size")
		return 0
	}

	return float64(totalSize) / 1024 / 1024
}

func (h *SystemHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func bytesToMB(b uint64) float64 {
	return float64(b) / 1024 / 1024
}
