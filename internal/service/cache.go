// Пакет service — бизнес-логика Media Module.
//
// cache.go — BoundedCache: in-memory кэш с ограничением числа записей,
// TTL и фоновой очисткой. Обёртка над hashicorp/golang-lru/v2/simplelru.
//
// Порядок вытеснения — FIFO по времени вставки: чтение использует Peek
// и не продвигает запись. Это приближение "давности использования",
// а не настоящий LRU.
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus-метрики кэшей. Лейбл cache — имя экземпляра (blob, memo).
var (
	cacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mm_cache_hits_total",
		Help: "Общее количество попаданий в кэш.",
	}, []string{"cache"})
	cacheMissesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mm_cache_misses_total",
		Help: "Общее количество промахов кэша.",
	}, []string{"cache"})
	cacheEvictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mm_cache_evictions_total",
		Help: "Вытеснения из кэша по причине: capacity, expired.",
	}, []string{"cache", "reason"})
	cacheEntries = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mm_cache_entries",
		Help: "Текущее количество записей в кэше.",
	}, []string{"cache"})
)

// cacheEntry — значение с моментом вставки.
type cacheEntry[V any] struct {
	value      V
	insertedAt time.Time
}

// CacheStats — снимок состояния кэша для /downloads/cache/status.
type CacheStats struct {
	Name       string        `json:"name"`
	Size       int           `json:"size"`
	MaxEntries int           `json:"maxEntries"`
	TTL        time.Duration `json:"-"`
	TTLSeconds int64         `json:"ttlSeconds"`
}

// BoundedCache — потокобезопасный кэш с FIFO-вытеснением и TTL.
// Отсутствие записи в кэше ничего не говорит о существовании данных в БД.
type BoundedCache[K comparable, V any] struct {
	name       string
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
	logger     *slog.Logger

	mu  sync.Mutex
	lru *simplelru.LRU[K, cacheEntry[V]]

	cancel context.CancelFunc
	done   chan struct{}
}

// NewBoundedCache создаёт кэш. maxEntries и ttl должны быть > 0.
func NewBoundedCache[K comparable, V any](name string, maxEntries int, ttl time.Duration, logger *slog.Logger) *BoundedCache[K, V] {
	lru, err := simplelru.NewLRU[K, cacheEntry[V]](maxEntries, nil)
	if err != nil {
		// simplelru отказывает только при size <= 0, config.Load это исключает
		panic(err)
	}
	return &BoundedCache[K, V]{
		name:       name,
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
		logger:     logger.With(slog.String("component", "cache"), slog.String("cache", name)),
		lru:        lru,
	}
}

// Get возвращает значение, если оно есть и не просрочено.
// Просроченная запись удаляется в момент обращения.
func (c *BoundedCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.lru.Peek(key)
	if !ok {
		cacheMissesTotal.WithLabelValues(c.name).Inc()
		return zero, false
	}
	if c.expired(e) {
		c.lru.Remove(key)
		cacheEvictionsTotal.WithLabelValues(c.name, "expired").Inc()
		cacheMissesTotal.WithLabelValues(c.name).Inc()
		c.updateSize()
		return zero, false
	}
	cacheHitsTotal.WithLabelValues(c.name).Inc()
	return e.value, true
}

// Set добавляет запись. При заполненном кэше вытесняется самая старая
// по времени вставки. Повторный Set существующего ключа переставляет
// запись в конец очереди с новым временем вставки.
func (c *BoundedCache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lru.Contains(key) {
		c.lru.Remove(key)
	}
	if evicted := c.lru.Add(key, cacheEntry[V]{value: value, insertedAt: c.now()}); evicted {
		cacheEvictionsTotal.WithLabelValues(c.name, "capacity").Inc()
	}
	c.updateSize()
}

// Delete удаляет запись по ключу.
func (c *BoundedCache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Remove(key)
	c.updateSize()
}

// DeleteFunc удаляет все записи, для ключей которых pred возвращает true.
// Возвращает количество удалённых записей.
func (c *BoundedCache[K, V]) DeleteFunc(pred func(K) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, k := range c.lru.Keys() {
		if pred(k) {
			c.lru.Remove(k)
			removed++
		}
	}
	c.updateSize()
	return removed
}

// Clear удаляет все записи.
func (c *BoundedCache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Purge()
	c.updateSize()
}

// Size возвращает текущее количество записей (включая ещё не вычищенные просроченные).
func (c *BoundedCache[K, V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Stats возвращает снимок состояния кэша.
func (c *BoundedCache[K, V]) Stats() CacheStats {
	return CacheStats{
		Name:       c.name,
		Size:       c.Size(),
		MaxEntries: c.maxEntries,
		TTL:        c.ttl,
		TTLSeconds: int64(c.ttl / time.Second),
	}
}

// Sweep удаляет все просроченные записи. Записи упорядочены по времени
// вставки и TTL общий, поэтому обход останавливается на первой живой.
func (c *BoundedCache[K, V]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for {
		_, e, ok := c.lru.GetOldest()
		if !ok || !c.expired(e) {
			break
		}
		c.lru.RemoveOldest()
		removed++
	}
	if removed > 0 {
		cacheEvictionsTotal.WithLabelValues(c.name, "expired").Add(float64(removed))
		c.updateSize()
	}
	return removed
}

// Start запускает фоновую очистку с периодом interval.
func (c *BoundedCache[K, V]) Start(ctx context.Context, interval time.Duration) {
	sweepCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	go c.run(sweepCtx, interval)

	c.logger.Info("Фоновая очистка кэша запущена",
		slog.String("interval", interval.String()),
		slog.String("ttl", c.ttl.String()),
		slog.Int("max_entries", c.maxEntries),
	)
}

// Stop останавливает фоновую очистку и дожидается завершения горутины.
func (c *BoundedCache[K, V]) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
	c.cancel = nil
	c.logger.Info("Фоновая очистка кэша остановлена")
}

func (c *BoundedCache[K, V]) run(ctx context.Context, interval time.Duration) {
	defer close(c.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				c.logger.Debug("Просроченные записи удалены", slog.Int("count", n))
			}
		}
	}
}

// expired: запись возрастом ровно TTL уже недоступна.
func (c *BoundedCache[K, V]) expired(e cacheEntry[V]) bool {
	return c.now().Sub(e.insertedAt) >= c.ttl
}

// updateSize вызывается под c.mu.
func (c *BoundedCache[K, V]) updateSize() {
	cacheEntries.WithLabelValues(c.name).Set(float64(c.lru.Len()))
}
