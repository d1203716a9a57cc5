package board

import (
	"context"
	"time"

	"github.com/manpreetbhatti/classboard/internal/protocol"
)

// schedulePresenceSync debounces presence changes; only the latest set is
// reported once things settle. Callers hold mu.
func (b *Whiteboard) schedulePresenceSync(present []string) {
	if b.opts.Presence == nil || !b.joined {
		return
	}
	if b.presenceTimer != nil {
		b.presenceTimer.Stop()
	}
	ids := append([]string(nil), present...)
	b.presenceTimer = time.AfterFunc(b.opts.PresenceDebounce, func() {
		b.goAsync(func(ctx context.Context) { b.syncPresence(ctx, ids) })
	})
}

// syncPresence reports the present set and broadcasts a revoke for every
// participant the server revoked.
func (b *Whiteboard) syncPresence(ctx context.Context, present []string) {
	revoked, err := b.opts.Presence.SyncPresence(ctx, present)
	if err != nil {
		if ctx.Err() == nil {
			b.log.Warn("board: presence sync failed", err)
		}
		return
	}
	if len(revoked) == 0 {
		return
	}
	b.log.Info("board: revoked absent participants", revoked)
	b.do(func() {
		for _, id := range revoked {
			if id == b.identity {
				continue
			}
			b.emit(protocol.PermissionChange{Target: id, CanDraw: false})
		}
	})
}
