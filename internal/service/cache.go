// cache.go — LRU-кэш разрешения имён файлов с TTL.
// Обёртка над hashicorp/golang-lru/v2/expirable.
package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/nas-service/internal/domain/model"
)

var (
	resolveCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nas_resolve_cache_hits_total",
		Help: "Общее количество попаданий в кэш разрешения имён.",
	})
	resolveCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nas_resolve_cache_misses_total",
		Help: "Общее количество промахов кэша разрешения имён.",
	})
)

// ResolveCache кэширует первую запись индекса для имени файла.
// Хранятся только положительные результаты. Get и Set работают с
// копиями записей, вызывающий код не разделяет их с кэшем.
type ResolveCache struct {
	cache *expirable.LRU[string, *model.FileRecord]
}

// NewResolveCache создаёт кэш. maxSize <= 0 отключает кэширование.
func NewResolveCache(maxSize int, ttl time.Duration) *ResolveCache {
	if maxSize <= 0 {
		return &ResolveCache{}
	}
	return &ResolveCache{cache: expirable.NewLRU[string, *model.FileRecord](maxSize, nil, ttl)}
}

// Get возвращает запись по имени файла.
func (c *ResolveCache) Get(filename string) (*model.FileRecord, bool) {
	if c.cache == nil {
		return nil, false
	}
	rec, ok := c.cache.Get(filename)
	if ok {
		resolveCacheHitsTotal.Inc()
		cp := *rec
		return &cp, true
	}
	resolveCacheMissesTotal.Inc()
	return nil, false
}

// Set запоминает запись для имени файла.
func (c *ResolveCache) Set(filename string, rec *model.FileRecord) {
	if c.cache == nil || rec == nil {
		return
	}
	cp := *rec
	c.cache.Add(filename, &cp)
}

// Delete инвалидирует имя файла.
func (c *ResolveCache) Delete(filename string) {
	if c.cache == nil {
		return
	}
	c.cache.Remove(filename)
}

// Purge очищает кэш целиком (после исправлений reconciliation).
func (c *ResolveCache) Purge() {
	if c.cache == nil {
		return
	}
	c.cache.Purge()
}

// Len возвращает количество записей в кэше.
func (c *ResolveCache) Len() int {
	if c.cache == nil {
		return 0
	}
	return c.cache.Len()
}
