// Package zones caches the list of parent zones served by the authoritative
// provider so lookups never block on network I/O.
package zones

import (
	"context"
	"sync"

	"github.com/hashicorp/go-hclog"
)

// Lister is the one provider call the directory needs.
type Lister interface {
	Zones(ctx context.Context) ([]string, error)
}

// Directory holds the last successfully fetched zone snapshot. The snapshot
// is replaced atomically on refresh; readers never see a partial list.
// Staleness is tolerated over unavailability: a failed refresh keeps the
// previous snapshot.
type Directory struct {
	lister      Lister
	defaultZone string
	log         hclog.Logger

	mu    sync.RWMutex
	names []string
}

func NewDirectory(lister Lister, defaultZone string, log hclog.Logger) *Directory {
	return &Directory{
		lister:      lister,
		defaultZone: defaultZone,
		log:         log,
	}
}

// Bootstrap performs the initial refresh. If the very first fetch fails the
// directory falls back to the configured default zone so the service never
// starts with an empty zone list.
func (d *Directory) Bootstrap(ctx context.Context) {
	if err := d.Refresh(ctx); err != nil {
		d.log.Error("initial zone refresh failed, falling back to default zone",
			"default_zone", d.defaultZone, "error", err)
		d.mu.Lock()
		d.names = []string{d.defaultZone}
		d.mu.Unlock()
	}
}

// Refresh fetches the zone list and swaps the snapshot. On error the current
// snapshot is retained.
func (d *Directory) Refresh(ctx context.Context) error {
	names, err := d.lister.Zones(ctx)
	if err != nil {
		d.log.Error("zone refresh failed, keeping previous snapshot", "error", err)
		return err
	}

	d.mu.Lock()
	d.names = names
	d.mu.Unlock()

	d.log.Info("zone snapshot refreshed", "zones", len(names))
	return nil
}

// Current returns the cached zone names. The returned slice is a copy.
func (d *Directory) Current() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, len(d.names))
	copy(out, d.names)
	return out
}

// Contains reports whether zone is one of the served parent zones.
func (d *Directory) Contains(zone string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, name := range d.names {
		if name == zone {
			return true
		}
	}
	return false
}
