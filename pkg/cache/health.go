package cache

import (
	"context"
	"fmt"
)

// Health reports a point-in-time health snapshot for each tier, ordered
// l1, l2, l3. The memory tier is always healthy; the remote tier is probed
// with a live ping regardless of breaker state; the file tier is probed
// for directory writability.
func (c *Cache[V]) Health(ctx context.Context) []TierHealth {
	health := make([]TierHealth, 0, 3)

	memStats := c.memory.stats()
	health = append(health, TierHealth{
		Tier:    TierMemory,
		Healthy: true,
		Detail:  fmt.Sprintf("%d of %d entries", memStats.Entries, memStats.MaxEntries),
	})

	switch {
	case !c.remote.configured():
		health = append(health, TierHealth{
			Tier:   TierRemote,
			Detail: "not configured",
		})
	default:
		if err := c.remote.ping(ctx, c.config.L2.ProbeTimeout); err != nil {
			health = append(health, TierHealth{
				Tier:   TierRemote,
				Detail: err.Error(),
			})
		} else {
			health = append(health, TierHealth{
				Tier:    TierRemote,
				Healthy: true,
				Detail:  fmt.Sprintf("connected, breaker %s", c.remote.breaker.State()),
			})
		}
	}

	if err := c.files.probe(); err != nil {
		health = append(health, TierHealth{
			Tier:   TierFile,
			Detail: err.Error(),
		})
	} else {
		health = append(health, TierHealth{
			Tier:    TierFile,
			Healthy: true,
			Detail:  fmt.Sprintf("%d entries", c.files.entryCount()),
		})
	}
	return health
}
