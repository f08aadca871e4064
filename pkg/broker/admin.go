package broker

import (
	"fmt"

	"github.com/nano-cluster/nano-compose/internal/config"
	"github.com/nano-cluster/nano-compose/pkg/types"
)

// AdminGetStats returns the stats snapshot
const AdminGetStats = "get_stats"

// handleAdmin answers a call addressed to the built-in admin module. The
// call is already pending under key.
func (b *Broker) handleAdmin(key, name string, msg *types.Message) {
	switch name {
	case AdminGetStats:
		b.respond(config.AdminModule, types.NewResultResponse(msg.ID, b.stats.Snapshot()))
	default:
		b.synthesize(config.AdminModule, key, types.CodenameUnknownMethod,
			fmt.Sprintf("module %s has no method %s", config.AdminModule, name))
	}
}

// evictExpired fails calls that have been pending longer than the TTL
func (b *Broker) evictExpired() {
	cutoff := b.now().Add(-b.cfg.PendingTTL)
	expired := b.pending.OlderThan(cutoff)
	if len(expired) == 0 {
		return
	}
	b.logger.Warn("Evicting expired calls", "count", len(expired), "pending_ttl", b.cfg.PendingTTL)
	for _, key := range expired {
		pc, ok := b.pending.Lookup(key)
		if !ok {
			continue
		}
		b.synthesize(pc.Callee, key, types.CodenameTimeout,
			fmt.Sprintf("no reply from %s to %s within %s", pc.Callee, pc.Method, b.cfg.PendingTTL))
	}
}
