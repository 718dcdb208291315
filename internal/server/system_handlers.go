package server

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/meridian/newsgraph/internal/di"
)

// SystemHandlers serves system-wide monitoring endpoints
type SystemHandlers struct {
	log         zerolog.Logger
	dataDir     string
	startupTime time.Time
	container   *di.Container
}

// NewSystemHandlers creates a new system handlers instance
func NewSystemHandlers(log zerolog.Logger, dataDir string, container *di.Container) *SystemHandlers {
	return &SystemHandlers{
		log:         log.With().Str("component", "system").Logger(),
		dataDir:     dataDir,
		startupTime: time.Now(),
		container:   container,
	}
}

// SystemStatusResponse is the system status payload
type SystemStatusResponse struct {
	Status        string             `json:"status"`
	UptimeSeconds int64              `json:"uptime_seconds"`
	CPUPercent    float64            `json:"cpu_percent"`
	RAMPercent    float64            `json:"ram_percent"`
	DataDirMB     float64            `json:"data_dir_mb"`
	Stores        map[string]string  `json:"stores"`
	AliasCacheLen int                `json:"alias_cache_len"`
	DBSizes       map[string]float64 `json:"db_sizes_mb"`
}

// HandleSystemStatus handles GET /api/system/status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	cpuPct, ramPct := h.getSystemStats()

	stores := map[string]string{"graph": "ok", "vector": "ok", "cache": "ok"}
	ctx := r.Context()
	if err := h.container.GraphDB.QuickCheck(ctx); err != nil {
		stores["graph"] = err.Error()
	}
	if err := h.container.VectorDB.QuickCheck(ctx); err != nil {
		stores["vector"] = err.Error()
	}
	if err := h.container.CacheDB.QuickCheck(ctx); err != nil {
		stores["cache"] = err.Error()
	}

	dbSizes := make(map[string]float64)
	if stats, err := h.container.GraphDB.GetStats(); err == nil {
		dbSizes["graph"] = float64(stats.SizeBytes) / (1024 * 1024)
	}
	if stats, err := h.container.VectorDB.GetStats(); err == nil {
		dbSizes["vector"] = float64(stats.SizeBytes) / (1024 * 1024)
	}

	status := "healthy"
	for _, v := range stores {
		if v != "ok" {
			status = "degraded"
		}
	}

	response := SystemStatusResponse{
		Status:        status,
		UptimeSeconds: int64(time.Since(h.startupTime).Seconds()),
		CPUPercent:    cpuPct,
		RAMPercent:    ramPct,
		DataDirMB:     h.getDirSize(h.dataDir),
		Stores:        stores,
		AliasCacheLen: h.container.AliasResolver.CacheLen(),
		DBSizes:       dbSizes,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode system status")
	}
}

// getSystemStats returns CPU and RAM usage percentages. The 100ms sample
// keeps the endpoint fast enough for dashboard polling.
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

// getDirSize returns total directory size in MB
func (h *SystemHandlers) getDirSize(dirPath string) float64 {
	var size int64
	_ = filepath.Walk(dirPath, func(_ string, info os.FileInfo, err error) error {
		if err == nil && info != nil && !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return float64(size) / (1024 * 1024)
}
