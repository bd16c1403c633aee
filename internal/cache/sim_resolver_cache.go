package cache

import (
	"strings"
	"time"

	simdomain "github.com/airgate-io/airgate/internal/sim/domain"
)

// Resolved SIMs are held briefly so a burst of usage records for the
// same ICCID hits the database once. Lifecycle state read through the
// cache can lag a transition by up to the TTL.
const defaultSimTTL = 45 * time.Second

// SimResolverCache stores hot-path ICCID lookups for usage ingest.
type SimResolverCache interface {
	GetSim(orgID, iccid string) (simdomain.Sim, bool)
	SetSim(orgID, iccid string, sim simdomain.Sim)
	Invalidate(orgID, iccid string)
}

type simResolverCache struct {
	sims   Cache[string, simdomain.Sim]
	simTTL time.Duration
}

// NewSimResolverCache returns an in-memory cache tuned for usage ingest.
func NewSimResolverCache() SimResolverCache {
	return &simResolverCache{
		sims:   NewTTLCache[string, simdomain.Sim](),
		simTTL: defaultSimTTL,
	}
}

func (c *simResolverCache) GetSim(orgID, iccid string) (simdomain.Sim, bool) {
	return c.sims.Get(cacheKey(orgID, iccid))
}

func (c *simResolverCache) SetSim(orgID, iccid string, sim simdomain.Sim) {
	if sim.ID == 0 {
		return
	}
	c.sims.Set(cacheKey(orgID, iccid), sim, c.simTTL)
}

func (c *simResolverCache) Invalidate(orgID, iccid string) {
	c.sims.Delete(cacheKey(orgID, iccid))
}

func cacheKey(parts ...string) string {
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		values = append(values, strings.ToLower(trimmed))
	}
	return strings.Join(values, "|")
}
