package metric

import (
	"context"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Loader is the backing source for CachedCatalog.
type Loader interface {
	Catalog
	All(ctx context.Context) ([]Metric, error)
}

// CachedCatalog is a read-through cache over a Loader keyed by metric code.
// Definitions are static reference data, so entries are never invalidated;
// misses fall through to the loader and are remembered when found.
type CachedCatalog struct {
	src Loader

	mu     sync.RWMutex
	byCode map[string]Metric
}

// NewCachedCatalog wraps src. Call Load at process start to warm the cache.
func NewCachedCatalog(src Loader) *CachedCatalog {
	return &CachedCatalog{src: src, byCode: make(map[string]Metric)}
}

// Load fills the cache with every definition from the loader.
func (c *CachedCatalog) Load(ctx context.Context) error {
	all, err := c.src.All(ctx)
	if err != nil {
		return eris.Wrap(err, "metric: load catalog")
	}

	c.mu.Lock()
	for _, m := range all {
		c.byCode[m.Code] = m
	}
	c.mu.Unlock()

	zap.L().Info("metric: catalog loaded", zap.Int("metrics", len(all)))
	return nil
}

// FindByCode implements Catalog.
func (c *CachedCatalog) FindByCode(ctx context.Context, code string) (*Metric, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, nil
	}

	c.mu.RLock()
	m, ok := c.byCode[code]
	c.mu.RUnlock()
	if ok {
		return &m, nil
	}

	found, err := c.src.FindByCode(ctx, code)
	if err != nil || found == nil {
		return nil, err
	}

	c.mu.Lock()
	c.byCode[code] = *found
	c.mu.Unlock()
	return found, nil
}

// FindAllByCodes implements Catalog. Order follows codes; unknown codes are omitted.
func (c *CachedCatalog) FindAllByCodes(ctx context.Context, codes []string) ([]Metric, error) {
	out := make([]Metric, 0, len(codes))
	for _, code := range codes {
		m, err := c.FindByCode(ctx, code)
		if err != nil {
			return nil, err
		}
		if m != nil {
			out = append(out, *m)
		}
	}
	return out, nil
}

// Len returns the number of cached definitions.
func (c *CachedCatalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byCode)
}
