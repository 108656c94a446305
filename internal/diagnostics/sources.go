package diagnostics

import (
	"slices"

	"github.com/hashicorp/golang-lru/v2"
)

// SourceResolver lists the source files of a target as absolute paths.
type SourceResolver interface {
	Sources(target string) []string
}

// SourceCache is a SourceResolver filled ahead of a build and kept for the
// lifetime of the server. It is safe for concurrent use.
type SourceCache struct {
	cache *lru.Cache[string, []string]
}

func NewSourceCache(size int) (*SourceCache, error) {
	cache, err := lru.New[string, []string](size)
	if err != nil {
		return nil, err
	}
	return &SourceCache{cache: cache}, nil
}

func (c *SourceCache) Put(target string, sources []string) {
	c.cache.Add(target, slices.Clone(sources))
}

// Has reports whether target's sources are cached, without touching recency.
func (c *SourceCache) Has(target string) bool {
	return c.cache.Contains(target)
}

func (c *SourceCache) Sources(target string) []string {
	sources, _ := c.cache.Get(target)
	return slices.Clone(sources)
}

func (c *SourceCache) Len() int {
	return c.cache.Len()
}
