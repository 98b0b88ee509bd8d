// health.go — периодическая проба файлового хранилища.
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/nas-service/internal/domain/model"
)

var diskHealthy = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "nas_disk_healthy",
	Help: "Результат последней пробы хранилища (1 — исправно, 0 — деградация)",
})

// prober — источник пробы хранилища.
type prober interface {
	HealthCheck() model.HealthStatus
}

// HealthMonitor периодически выполняет пробу хранилища и хранит
// последний результат. Переходы healthy ↔ degraded логируются.
type HealthMonitor struct {
	probe    prober
	interval time.Duration
	logger   *slog.Logger

	mu     sync.RWMutex
	last   model.HealthStatus
	probed bool

	// runMu исключает наложение проб
	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHealthMonitor создаёт монитор. probe — обычно *CatalogService.
func NewHealthMonitor(probe prober, interval time.Duration, logger *slog.Logger) *HealthMonitor {
	return &HealthMonitor{
		probe:    probe,
		interval: interval,
		logger:   logger.With(slog.String("component", "health_monitor")),
	}
}

// Start выполняет первую пробу и запускает периодическую горутину.
func (m *HealthMonitor) Start(ctx context.Context) {
	m.RunOnce()

	monCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go m.run(monCtx)

	m.logger.Info("Мониторинг хранилища запущен",
		slog.String("interval", m.interval.String()),
	)
}

// Stop останавливает монитор и дожидается завершения горутины.
func (m *HealthMonitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
	m.cancel = nil
	m.logger.Info("Мониторинг хранилища остановлен")
}

func (m *HealthMonitor) run(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.RunOnce()
		}
	}
}

// RunOnce выполняет пробу и сохраняет результат.
func (m *HealthMonitor) RunOnce() model.HealthStatus {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	status := m.probe.HealthCheck()

	m.mu.Lock()
	prev, hadPrev := m.last, m.probed
	m.last = status
	m.probed = true
	m.mu.Unlock()

	if status.Healthy {
		diskHealthy.Set(1)
	} else {
		diskHealthy.Set(0)
	}

	switch {
	case !status.Healthy && (!hadPrev || prev.Healthy):
		m.logger.Warn("Хранилище в состоянии деградации",
			slog.String("status", status.String()),
		)
	case status.Healthy && hadPrev && !prev.Healthy:
		m.logger.Info("Хранилище восстановлено",
			slog.String("previous", prev.String()),
		)
	}

	return status
}

// Last возвращает результат последней пробы. Если проба ещё не
// выполнялась, она выполняется синхронно.
func (m *HealthMonitor) Last() model.HealthStatus {
	m.mu.RLock()
	status, ok := m.last, m.probed
	m.mu.RUnlock()

	if !ok {
		return m.RunOnce()
	}
	return status
}
