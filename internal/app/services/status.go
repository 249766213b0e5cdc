package services

import (
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"rizo-card-bot/internal/domain/gate"
	"rizo-card-bot/internal/platform/storage"
)

// StatusService assembles the payload for the status endpoint.
type StatusService struct {
	gate      *gate.Gate
	history   *storage.HistoryStore
	startedAt time.Time
}

// NewStatusService captures the process start time for uptime reporting.
func NewStatusService(g *gate.Gate, history *storage.HistoryStore) *StatusService {
	return &StatusService{
		gate:      g,
		history:   history,
		startedAt: time.Now(),
	}
}

// Status reports pipeline occupancy, 24h generation counts, and host
// resource usage.
func (s *StatusService) Status() map[string]interface{} {
	status := map[string]interface{}{
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
		"goroutines":     runtime.NumGoroutine(),
	}

	if s.gate != nil {
		status["pipeline"] = map[string]interface{}{
			"slots":     s.gate.Slots(),
			"in_flight": s.gate.InFlight(),
		}
	}

	if s.history != nil {
		if stats, err := s.history.StatsSince(time.Now().Add(-24 * time.Hour)); err == nil {
			status["generations_24h"] = stats
		}
	}

	// Host metrics are best-effort; the endpoint stays useful without them.
	if vm, err := mem.VirtualMemory(); err == nil {
		status["memory"] = map[string]interface{}{
			"used_percent": vm.UsedPercent,
			"total_mb":     vm.Total / (1 << 20),
		}
	}
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		status["cpu_percent"] = percents[0]
	}

	return status
}
