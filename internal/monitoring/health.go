package monitoring

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"freemail/backend/internal/logger"
)

// HealthStatus 健康状态
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// 运行时告警阈值
const (
	memoryLimitBytes   = 1 << 30
	goroutineThreshold = 10000
	probeTimeout       = 3 * time.Second
)

// HealthCheck 单项检查结果
type HealthCheck struct {
	Name        string        `json:"name"`
	Status      HealthStatus  `json:"status"`
	Message     string        `json:"message,omitempty"`
	Duration    time.Duration `json:"duration"`
	LastChecked time.Time     `json:"last_checked"`
}

// HealthReport 健康报告
type HealthReport struct {
	Status    HealthStatus  `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Uptime    time.Duration `json:"uptime"`
	Checks    []HealthCheck `json:"checks"`
	Version   string        `json:"version"`
}

// Probe 依赖探测函数
type Probe func(ctx context.Context) error

type namedProbe struct {
	name     string
	critical bool
	probe    Probe
}

// HealthChecker 汇总依赖探测与运行时状态，并定期刷新运行时指标
type HealthChecker struct {
	mu        sync.RWMutex
	probes    []namedProbe
	metrics   *Metrics
	logger    *zap.Logger
	startTime time.Time
	version   string
}

// NewHealthChecker 创建健康检查器，metrics 可为 nil
func NewHealthChecker(metrics *Metrics, log *zap.Logger, version string) *HealthChecker {
	return &HealthChecker{
		metrics:   metrics,
		logger:    logger.OrNop(log),
		startTime: time.Now(),
		version:   version,
	}
}

// AddProbe 注册依赖探测。critical 探测失败时整体状态为 unhealthy，否则为 degraded。
func (hc *HealthChecker) AddProbe(name string, critical bool, probe Probe) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.probes = append(hc.probes, namedProbe{name: name, critical: critical, probe: probe})
}

// CheckHealth 执行健康检查
func (hc *HealthChecker) CheckHealth(ctx context.Context) *HealthReport {
	report := &HealthReport{
		Timestamp: time.Now(),
		Uptime:    time.Since(hc.startTime),
		Version:   hc.version,
		Checks:    make([]HealthCheck, 0),
	}

	hc.mu.RLock()
	probes := append([]namedProbe(nil), hc.probes...)
	hc.mu.RUnlock()

	for _, p := range probes {
		report.Checks = append(report.Checks, hc.runProbe(ctx, p))
	}
	report.Checks = append(report.Checks, hc.checkMemory(), hc.checkGoroutines())

	overallStatus := HealthStatusHealthy
	for _, check := range report.Checks {
		switch check.Status {
		case HealthStatusUnhealthy:
			overallStatus = HealthStatusUnhealthy
		case HealthStatusDegraded:
			if overallStatus != HealthStatusUnhealthy {
				overallStatus = HealthStatusDegraded
			}
		}
	}
	report.Status = overallStatus
	return report
}

func (hc *HealthChecker) runProbe(ctx context.Context, p namedProbe) HealthCheck {
	start := time.Now()
	check := HealthCheck{Name: p.name, LastChecked: start}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	if err := p.probe(ctx); err != nil {
		check.Status = HealthStatusDegraded
		if p.critical {
			check.Status = HealthStatusUnhealthy
		}
		check.Message = fmt.Sprintf("%s check failed: %v", p.name, err)
	} else {
		check.Status = HealthStatusHealthy
		check.Message = fmt.Sprintf("%s is healthy", p.name)
	}

	check.Duration = time.Since(start)
	return check
}

// checkMemory 检查内存使用
func (hc *HealthChecker) checkMemory() HealthCheck {
	start := time.Now()
	check := HealthCheck{Name: "memory", LastChecked: start}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	memoryUsageMB := float64(m.Alloc) / 1024 / 1024
	if m.Alloc > memoryLimitBytes {
		check.Status = HealthStatusDegraded
		check.Message = fmt.Sprintf("High memory usage: %.2f MB", memoryUsageMB)
	} else {
		check.Status = HealthStatusHealthy
		check.Message = fmt.Sprintf("Memory usage: %.2f MB", memoryUsageMB)
	}

	check.Duration = time.Since(start)
	return check
}

// checkGoroutines 检查 Goroutine 数量
func (hc *HealthChecker) checkGoroutines() HealthCheck {
	start := time.Now()
	check := HealthCheck{Name: "goroutines", LastChecked: start}

	numGoroutines := runtime.NumGoroutine()
	if numGoroutines > goroutineThreshold {
		check.Status = HealthStatusDegraded
		check.Message = fmt.Sprintf("High goroutine count: %d", numGoroutines)
	} else {
		check.Status = HealthStatusHealthy
		check.Message = fmt.Sprintf("Goroutines: %d", numGoroutines)
	}

	check.Duration = time.Since(start)
	return check
}

// GetUptime 获取系统运行时间
func (hc *HealthChecker) GetUptime() time.Duration {
	return time.Since(hc.startTime)
}

// Sample 刷新运行时指标
func (hc *HealthChecker) Sample() {
	if hc.metrics == nil {
		return
	}
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	hc.metrics.UpdateMemoryUsage(int64(m.Alloc))
	hc.metrics.UpdateGoroutines(runtime.NumGoroutine())
	hc.metrics.UpdateSystemUptime(hc.GetUptime())
}

// Run 定期刷新运行时指标并记录健康状态，直到 ctx 结束
func (hc *HealthChecker) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			hc.Sample()
			report := hc.CheckHealth(ctx)

			switch report.Status {
			case HealthStatusUnhealthy:
				hc.logger.Error("System health check failed",
					zap.String("status", string(report.Status)),
					zap.Duration("uptime", report.Uptime),
				)
			case HealthStatusDegraded:
				hc.logger.Warn("System health check degraded",
					zap.String("status", string(report.Status)),
					zap.Duration("uptime", report.Uptime),
				)
			default:
				hc.logger.Debug("System health check passed",
					zap.String("status", string(report.Status)),
					zap.Duration("uptime", report.Uptime),
				)
			}
		}
	}
}
