// Package monitor keeps relay statistics: throughput, fan-out and the
// latency between a frame arriving and it being queued to its receivers.
package monitor

import (
	"log"
	"sync"
	"time"

	movingaverage "github.com/RobinUS2/golang-moving-average"
)

// Number of report periods averaged
const window = 5

// Stats is the latest report.
type Stats struct {
	MessagesPerSecond float64 `json:"messages_per_second"`
	AvgFanout         float64 `json:"avg_fanout"`
	AvgLatencyMs      float64 `json:"avg_latency_ms"`
	TotalRelayed      int64   `json:"total_relayed"`
}

// Monitor keeps relay stats. It satisfies ws.Recorder.
type Monitor struct {
	sync.Mutex
	period time.Duration

	relayed      int
	fanout       int
	totalRelayed int64
	latency      *movingaverage.MovingAverage
	rate         *movingaverage.MovingAverage
	fanouts      *movingaverage.MovingAverage
	last         Stats

	stopCh chan struct{}
	doneCh chan struct{}
}

func New(period time.Duration) *Monitor {
	if period <= 0 {
		period = 5 * time.Second
	}
	return &Monitor{
		period:  period,
		latency: movingaverage.New(window),
		rate:    movingaverage.New(window),
		fanouts: movingaverage.New(window),
	}
}

// Relayed records one relayed message.
func (m *Monitor) Relayed(fanout int, elapsed time.Duration) {
	m.Lock()
	defer m.Unlock()

	m.relayed++
	m.totalRelayed++
	m.fanout += fanout
	m.latency.Add(float64(elapsed/time.Microsecond) / 1000.0)
}

// Start starts the Monitor worker.
func (m *Monitor) Start() {
	if m.stopCh != nil {
		return
	}

	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	go m.worker()
}

// Stop stops the Monitor worker.
func (m *Monitor) Stop() {
	if m.stopCh == nil {
		return
	}

	close(m.stopCh)
	<-m.doneCh
	m.stopCh = nil
}

func (m *Monitor) Stats() Stats {
	m.Lock()
	defer m.Unlock()
	return m.last
}

// Tick closes the current period and returns the refreshed report.
func (m *Monitor) Tick() Stats {
	m.Lock()
	defer m.Unlock()

	m.rate.Add(float64(m.relayed) / m.period.Seconds())
	if m.relayed > 0 {
		m.fanouts.Add(float64(m.fanout) / float64(m.relayed))
	}
	m.relayed = 0
	m.fanout = 0

	m.last = Stats{
		MessagesPerSecond: m.rate.Avg(),
		AvgFanout:         m.fanouts.Avg(),
		AvgLatencyMs:      m.latency.Avg(),
		TotalRelayed:      m.totalRelayed,
	}
	return m.last
}

func (m *Monitor) worker() {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.period)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			s := m.Tick()
			if s.TotalRelayed == 0 {
				continue
			}
			log.Printf("📈 Monitor:")
			log.Printf("  - Messages / s:      %.2f", s.MessagesPerSecond)
			log.Printf("  - Avg fan-out:       %.2f", s.AvgFanout)
			log.Printf("  - Relay latency [ms]: %.3f", s.AvgLatencyMs)
		}
	}
}
