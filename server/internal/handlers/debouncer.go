package handlers

import (
	"sync"
	"time"

	"github.com/tobyv/tokentrail/server/internal/database"
)

// Dashboard bundles everything the dashboard fragment renders.
type Dashboard struct {
	ByDay      []database.AggregatedUsage
	ByFunction []database.AggregatedUsage
	ByModel    []database.AggregatedUsage
	Recent     []database.UsageEvent
	Total      *database.AggregatedUsage
}

// DashboardCache caches computed dashboards per user and refreshes
// them on a debounce timer so a burst of syncs triggers one rebuild.
type DashboardCache struct {
	db    *database.DB
	delay time.Duration

	mu      sync.Mutex
	cached  map[string]*Dashboard
	pending map[string]int // userID -> generation
}

// NewDashboardCache creates a cache with the given refresh debounce.
func NewDashboardCache(db *database.DB, delay time.Duration) *DashboardCache {
	return &DashboardCache{
		db:      db,
		delay:   delay,
		cached:  make(map[string]*Dashboard),
		pending: make(map[string]int),
	}
}

// Get returns the user's dashboard, computing and caching it on a miss.
func (c *DashboardCache) Get(userID string) (*Dashboard, error) {
	c.mu.Lock()
	if d, ok := c.cached[userID]; ok {
		c.mu.Unlock()
		return d, nil
	}
	c.mu.Unlock()

	d, err := c.build(userID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cached[userID] = d
	c.mu.Unlock()
	return d, nil
}

// Invalidate drops the cached dashboard and schedules a debounced
// rebuild. A later Invalidate within the delay resets the timer.
func (c *DashboardCache) Invalidate(userID string) {
	c.mu.Lock()
	delete(c.cached, userID)
	c.pending[userID]++
	gen := c.pending[userID]
	c.mu.Unlock()

	time.AfterFunc(c.delay, func() {
		c.refresh(userID, gen)
	})
}

func (c *DashboardCache) refresh(userID string, generation int) {
	c.mu.Lock()
	if c.pending[userID] != generation {
		// A newer invalidation reset the timer
		c.mu.Unlock()
		return
	}
	delete(c.pending, userID)
	c.mu.Unlock()

	d, err := c.build(userID)
	if err != nil {
		return
	}

	c.mu.Lock()
	c.cached[userID] = d
	c.mu.Unlock()
}

func (c *DashboardCache) build(userID string) (*Dashboard, error) {
	byDay, err := c.db.GetUsageByDay(userID)
	if err != nil {
		return nil, err
	}
	byFunction, err := c.db.GetUsageByFunction(userID)
	if err != nil {
		return nil, err
	}
	byModel, err := c.db.GetUsageByModel(userID)
	if err != nil {
		return nil, err
	}
	recent, err := c.db.GetRecentEvents(userID, 25)
	if err != nil {
		return nil, err
	}
	total, err := c.db.GetTotalUsage(userID)
	if err != nil {
		return nil, err
	}

	return &Dashboard{
		ByDay:      byDay,
		ByFunction: byFunction,
		ByModel:    byModel,
		Recent:     recent,
		Total:      total,
	}, nil
}
