package cache

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/devrev/tableview/internal/model"
)

// entryOverhead approximates the bookkeeping cost of one entry
const entryOverhead = 64

// DetailsCache is an adaptive LRU/LFU cache of decoded instant metadata
type DetailsCache struct {
	config          *Config
	entries         map[string]*entry
	logger          *zap.Logger
	mu              sync.Mutex
	currentSize     int64
	frequencyWeight float64
	recencyWeight   float64
	hits            uint64
	misses          uint64
	evictions       uint64
}

type entry struct {
	key         string
	value       model.Metadata
	size        int64
	accessCount int64
	lastAccess  time.Time
	score       float64
}

// Config holds cache configuration
type Config struct {
	MaxSize         int64
	FrequencyWeight float64
	RecencyWeight   float64
	AdaptiveWindow  time.Duration
}

// New creates a details cache
func New(cfg *Config, logger *zap.Logger) *DetailsCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DetailsCache{
		config:          cfg,
		entries:         make(map[string]*entry),
		logger:          logger,
		frequencyWeight: cfg.FrequencyWeight,
		recencyWeight:   cfg.RecencyWeight,
	}
}

// Get retrieves decoded metadata
func (c *DetailsCache) Get(key string) (model.Metadata, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, found := c.entries[key]
	if !found {
		c.misses++
		return nil, false
	}

	c.hits++
	e.accessCount++
	e.lastAccess = time.Now()
	e.score = c.calculateScore(e)

	return e.value, true
}

// Put adds or replaces decoded metadata; payloadSize is the encoded size
func (c *DetailsCache) Put(key string, value model.Metadata, payloadSize int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	size := int64(len(key)+payloadSize) + entryOverhead
	if size > c.config.MaxSize {
		return
	}

	if existing, found := c.entries[key]; found {
		c.currentSize += size - existing.size
		existing.value = value
		existing.size = size
		existing.accessCount++
		existing.lastAccess = time.Now()
		existing.score = c.calculateScore(existing)
		return
	}

	for c.currentSize+size > c.config.MaxSize && len(c.entries) > 0 {
		c.evictLowestScore()
	}

	e := &entry{
		key:         key,
		value:       value,
		size:        size,
		accessCount: 1,
		lastAccess:  time.Now(),
	}
	e.score = c.calculateScore(e)

	c.entries[key] = e
	c.currentSize += size
}

// Remove removes a key from the cache
func (c *DetailsCache) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, found := c.entries[key]; found {
		delete(c.entries, key)
		c.currentSize -= e.size
	}
}

// calculateScore computes the adaptive score; higher survives longer
func (c *DetailsCache) calculateScore(e *entry) float64 {
	frequencyScore := float64(e.accessCount)
	recencyScore := time.Since(e.lastAccess).Seconds()
	return c.frequencyWeight*frequencyScore - c.recencyWeight*recencyScore
}

func (c *DetailsCache) evictLowestScore() {
	var lowest *entry
	for _, e := range c.entries {
		if lowest == nil || e.score < lowest.score {
			lowest = e
		}
	}
	if lowest == nil {
		return
	}

	delete(c.entries, lowest.key)
	c.currentSize -= lowest.size
	c.evictions++

	c.logger.Debug("Evicted instant details",
		zap.String("key", lowest.key),
		zap.Float64("score", lowest.score))
}

// AdjustWeights shifts between LRU and LFU behaviour based on how many
// entries were touched inside the adaptive window
func (c *DetailsCache) AdjustWeights() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) == 0 {
		return
	}

	var recent int
	threshold := time.Now().Add(-c.config.AdaptiveWindow)
	for _, e := range c.entries {
		if e.lastAccess.After(threshold) {
			recent++
		}
	}

	hotness := float64(recent) / float64(len(c.entries))
	switch {
	case hotness > 0.7:
		c.recencyWeight, c.frequencyWeight = 0.7, 0.3
	case hotness < 0.3:
		c.recencyWeight, c.frequencyWeight = 0.3, 0.7
	default:
		c.recencyWeight, c.frequencyWeight = 0.5, 0.5
	}

	for _, e := range c.entries {
		e.score = c.calculateScore(e)
	}

	c.logger.Debug("Adjusted cache weights",
		zap.Float64("recency_weight", c.recencyWeight),
		zap.Float64("frequency_weight", c.frequencyWeight),
		zap.Float64("hotness_ratio", hotness))
}

// Stats returns cache statistics
func (c *DetailsCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	usage := 0.0
	if c.config.MaxSize > 0 {
		usage = float64(c.currentSize) / float64(c.config.MaxSize) * 100
	}
	return Stats{
		Size:            c.currentSize,
		MaxSize:         c.config.MaxSize,
		EntryCount:      len(c.entries),
		UsagePercent:    usage,
		Hits:            c.hits,
		Misses:          c.misses,
		Evictions:       c.evictions,
		FrequencyWeight: c.frequencyWeight,
		RecencyWeight:   c.recencyWeight,
	}
}

// Stats holds cache statistics
type Stats struct {
	Size            int64
	MaxSize         int64
	EntryCount      int
	UsagePercent    float64
	Hits            uint64
	Misses          uint64
	Evictions       uint64
	FrequencyWeight float64
	RecencyWeight   float64
}
