package metrics

import (
	"context"
	"time"

	"github.com/cuemby/shutter/pkg/storage"
)

// WorkerCounter reports the number of registered workers
type WorkerCounter interface {
	WorkerCount() int
}

// Collector periodically samples gauges that are cheaper to poll than to track
type Collector struct {
	directory storage.Directory
	workers   WorkerCounter
	interval  time.Duration
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(directory storage.Directory, workers WorkerCounter) *Collector {
	return &Collector{
		directory: directory,
		workers:   workers,
		interval:  15 * time.Second,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		defer close(c.doneCh)
		defer ticker.Stop()

		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				return
			}
		}
	}()
}

// Stop stops the collector and waits for it to exit
func (c *Collector) Stop() {
	close(c.stopCh)
	<-c.doneCh
}

func (c *Collector) collect() {
	c.collectWorkerMetrics()
	c.collectCameraMetrics()
}

func (c *Collector) collectWorkerMetrics() {
	if c.workers == nil {
		return
	}
	WorkersRunning.Set(float64(c.workers.WorkerCount()))
}

func (c *Collector) collectCameraMetrics() {
	if c.directory == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cameras, err := c.directory.ListCameras(ctx)
	if err != nil {
		return
	}
	CamerasTotal.Set(float64(len(cameras)))
}
