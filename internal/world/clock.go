package world

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Clock supplies the current simulated time. Memory records take their
// creation time from it explicitly.
type Clock interface {
	Now() time.Time
}

// ClockListener receives world tick events.
type ClockListener interface {
	OnTick(worldTime time.Time)
}

// WorldClock drives simulated time with a configurable tick rate and speed.
type WorldClock struct {
	speed     float64 // time multiplier, 1.0 = realtime
	interval  time.Duration
	listeners []ClockListener
	worldTime time.Time
	mu        sync.RWMutex
	cancel    context.CancelFunc
	logger    *zap.Logger
}

var _ Clock = (*WorldClock)(nil)

// NewWorldClock creates a stopped clock that starts at start.
func NewWorldClock(start time.Time, interval time.Duration, speed float64, logger *zap.Logger) *WorldClock {
	return &WorldClock{
		speed:     speed,
		interval:  interval,
		worldTime: start,
		logger:    logger,
	}
}

// AddListener registers a tick listener.
func (c *WorldClock) AddListener(l ClockListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// Now returns the current simulated time.
func (c *WorldClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.worldTime
}

// SetSpeed changes the time multiplier.
func (c *WorldClock) SetSpeed(speed float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.speed = speed
}

// Advance moves simulated time forward by d and notifies listeners.
// Negative durations are ignored; world time never runs backwards.
func (c *WorldClock) Advance(d time.Duration) time.Time {
	if d < 0 {
		return c.Now()
	}
	c.mu.Lock()
	c.worldTime = c.worldTime.Add(d)
	wt := c.worldTime
	listeners := make([]ClockListener, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	for _, l := range listeners {
		l.OnTick(wt)
	}
	return wt
}

// Start begins the tick loop in a background goroutine.
func (c *WorldClock) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.loop(ctx)
	c.logger.Info("world clock started",
		zap.Time("world_time", c.Now()),
		zap.Duration("interval", c.interval),
		zap.Float64("speed", c.speed))
}

// Stop halts the tick loop.
func (c *WorldClock) Stop() {
	if c.cancel != nil {
		c.cancel()
		c.logger.Info("world clock stopped")
	}
}

func (c *WorldClock) loop(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.RLock()
			step := time.Duration(float64(c.interval) * c.speed)
			c.mu.RUnlock()
			c.Advance(step)
		}
	}
}
