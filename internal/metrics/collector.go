package metrics

import (
	"context"
	"os"
	"runtime"
	"sync"
	"time"
)

// AgentStats is a point-in-time view of the agent's in-memory state
type AgentStats struct {
	ActiveCampaigns int
	LeasesHeld      int
	SeenRequests    int
}

// StatsProvider provides agent statistics for gauges
type StatsProvider interface {
	Stats() AgentStats
}

// StatsFunc adapts a function to StatsProvider
type StatsFunc func() AgentStats

// Stats implements StatsProvider
func (f StatsFunc) Stats() AgentStats { return f() }

// Collector periodically refreshes gauges that are sampled rather than counted
type Collector struct {
	metrics     *Metrics
	stats       StatsProvider
	storagePath string
	interval    time.Duration
	startTime   time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewCollector creates a new metrics collector
func NewCollector(m *Metrics, stats StatsProvider, storagePath string, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 5 * time.Second
	}

	return &Collector{
		metrics:     m,
		stats:       stats,
		storagePath: storagePath,
		interval:    interval,
		startTime:   time.Now(),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the collector background loop
func (c *Collector) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.loop(ctx)
}

// Stop stops the collector and waits for the loop to exit
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

func (c *Collector) loop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.Collect()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.Collect()
		}
	}
}

// Collect samples current system and agent state once
func (c *Collector) Collect() {
	c.metrics.UptimeSeconds.Set(time.Since(c.startTime).Seconds())
	c.metrics.Goroutines.Set(float64(runtime.NumGoroutine()))

	if c.storagePath != "" {
		if info, err := os.Stat(c.storagePath); err == nil {
			c.metrics.StorageUsedBytes.Set(float64(info.Size()))
		}
	}

	if c.stats != nil {
		s := c.stats.Stats()
		c.metrics.CampaignsActive.Set(float64(s.ActiveCampaigns))
		c.metrics.LeasesHeld.Set(float64(s.LeasesHeld))
		c.metrics.SeenRequests.Set(float64(s.SeenRequests))
	}
}
