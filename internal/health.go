package internal

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"

	"github.com/Logan27/1000-messenger-sub002/contract"
)

type HealthReport struct {
	Status      string  `json:"status"`
	ProcessID   string  `json:"processId"`
	Pid         int64   `json:"pid"`
	PidStatus   string  `json:"pidStatus"`
	CpuPercent  float64 `json:"cpuPercent"`
	RamBytes    uint64  `json:"ramBytes"`
	Connections int     `json:"connections"`
	BusHealthy  bool    `json:"busHealthy"`
	UptimeSec   int64   `json:"uptimeSec"`
}

// HealthServer answers liveness probes with the process self stats and
// the state of the two things that keep this node useful, the local
// connection registry and the bus subscription.
type HealthServer struct {
	log       *slog.Logger
	registry  contract.Registry
	bus       contract.Bus
	processID string
	startedAt time.Time
	self      *process.Process
}

func NewHealthServer(log *slog.Logger, registry contract.Registry, bus contract.Bus, processID string) (*HealthServer, error) {
	self, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("self process handle: %w", err)
	}
	return &HealthServer{
		log:       log,
		registry:  registry,
		bus:       bus,
		processID: processID,
		startedAt: time.Now().UTC(),
		self:      self,
	}, nil
}

// Start listens in the background. Probe failures must never take the
// node down, so errors are logged and swallowed.
func (s *HealthServer) Start(port int) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	go func() {
		addr := fmt.Sprintf("0.0.0.0:%d", port)
		s.log.Info("Starting health server", "address", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			s.log.Error("Health server stopped", "err", err)
		}
	}()
}

func (s *HealthServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	rss, cpu, pidStatus, err := selfStats(s.self)
	if err != nil {
		s.log.Warn("Failed to collect self stats", "err", err)
	}

	report := HealthReport{
		Status:      "ok",
		ProcessID:   s.processID,
		Pid:         int64(os.Getpid()),
		PidStatus:   pidStatus,
		CpuPercent:  cpu,
		RamBytes:    rss,
		Connections: s.registry.ConnectionCount(),
		BusHealthy:  s.bus.Healthy(),
		UptimeSec:   int64(time.Since(s.startedAt).Seconds()),
	}

	code := http.StatusOK
	if !report.BusHealthy {
		report.Status = "degraded"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(report)
}

// selfStats retrieves technical metrics (Memory, CPU, and OS Status) for the current process.
func selfStats(p *process.Process) (uint64, float64, string, error) {
	memInfo, err := p.MemoryInfo()
	if err != nil {
		return 0, 0, "", err
	}

	cpuPercent, err := p.CPUPercent()
	if err != nil {
		return 0, 0, "", err
	}

	status, err := p.Status()
	if err != nil {
		return 0, 0, "", err
	}
	return memInfo.RSS, cpuPercent, status, nil
}
