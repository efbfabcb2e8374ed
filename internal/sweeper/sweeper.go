// Package sweeper retires leases whose expiry date has passed. It runs on a
// daily schedule and is safe to fire in every replica: a cluster-wide
// advisory lock ensures only one instance actually sweeps.
package sweeper

import (
	"context"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/leehyunsuck/sub-dns/internal/ledger"
	"github.com/leehyunsuck/sub-dns/internal/lock"
	"github.com/leehyunsuck/sub-dns/internal/obs"
	"github.com/leehyunsuck/sub-dns/internal/syncer"
)

// Ledger is the read surface the sweeper needs.
type Ledger interface {
	FindExpiredBefore(ctx context.Context, cutoff time.Time) ([]ledger.Lease, error)
	GetOwner(ctx context.Context, id string) (*ledger.Owner, error)
}

// Deleter retires a single record; satisfied by the synchronizer.
type Deleter interface {
	DeleteRecord(ctx context.Context, ownerID, label, zone, recordType string) error
}

type Sweeper struct {
	ledger  Ledger
	deleter Deleter
	locks   lock.Locker
	log     hclog.Logger
	metrics *obs.Metrics
	lockTTL time.Duration

	now func() time.Time
}

func New(ldg Ledger, deleter Deleter, locks lock.Locker, log hclog.Logger, metrics *obs.Metrics, lockTTL time.Duration) *Sweeper {
	if lockTTL <= 0 {
		lockTTL = 55 * time.Second
	}
	return &Sweeper{
		ledger:  ldg,
		deleter: deleter,
		locks:   locks,
		log:     log,
		metrics: metrics,
		lockTTL: lockTTL,
		now:     time.Now,
	}
}

// Summary tallies one sweep run.
type Summary struct {
	Expired           int
	Deleted           int
	SkippedPrivileged int
	Failed            int
}

// Run executes one sweep. Losing the advisory lock is a normal outcome:
// another replica is already sweeping, and this invocation returns
// immediately. The lock is left to expire on its own TTL rather than being
// released, so a second scheduler firing moments later cannot re-run the
// same sweep.
func (s *Sweeper) Run(ctx context.Context) (Summary, error) {
	_, acquired, err := s.locks.Acquire(ctx, syncer.AdvisoryKey("delete-expiry-domain"), s.lockTTL)
	if err != nil {
		s.log.Error("sweep advisory lock acquisition failed", "error", err)
		return Summary{}, err
	}
	if !acquired {
		s.log.Info("sweep already running elsewhere, skipping")
		return Summary{}, nil
	}

	return s.sweep(ctx)
}

func (s *Sweeper) sweep(ctx context.Context) (Summary, error) {
	now := s.now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	expired, err := s.ledger.FindExpiredBefore(ctx, today)
	if err != nil {
		s.log.Error("failed to list expired leases", "error", err)
		return Summary{}, err
	}

	summary := Summary{Expired: len(expired)}
	if len(expired) == 0 {
		s.log.Info("sweep found nothing to retire")
		return summary, nil
	}

	s.log.Info("sweep starting", "expired", len(expired))
	for _, lease := range expired {
		privileged, err := s.ownerPrivileged(ctx, lease.OwnerID)
		if err != nil {
			s.log.Error("failed to load owner, leaving lease for the next sweep",
				"owner", lease.OwnerID, "domain", lease.FullDomain, "error", err)
			summary.Failed++
			continue
		}
		if privileged {
			s.log.Info("skipping privileged owner's lease",
				"owner", lease.OwnerID, "domain", lease.FullDomain, "type", lease.RecordType)
			summary.SkippedPrivileged++
			continue
		}

		label, zone, ok := splitFullDomain(lease.FullDomain)
		if !ok {
			s.log.Error("lease has a malformed full domain", "domain", lease.FullDomain)
			summary.Failed++
			continue
		}

		// Each deletion is independent; one failure never aborts the rest.
		if err := s.deleter.DeleteRecord(ctx, lease.OwnerID, label, zone, lease.RecordType); err != nil {
			s.log.Error("failed to retire expired lease",
				"owner", lease.OwnerID, "domain", lease.FullDomain, "type", lease.RecordType, "error", err)
			summary.Failed++
			continue
		}
		summary.Deleted++
	}

	s.log.Info("sweep finished",
		"expired", summary.Expired,
		"deleted", summary.Deleted,
		"skipped_privileged", summary.SkippedPrivileged,
		"failed", summary.Failed)
	s.observe(summary)
	return summary, nil
}

func (s *Sweeper) ownerPrivileged(ctx context.Context, ownerID string) (bool, error) {
	owner, err := s.ledger.GetOwner(ctx, ownerID)
	if err != nil {
		return false, err
	}
	return owner.Privileged, nil
}

func (s *Sweeper) observe(summary Summary) {
	if s.metrics == nil {
		return
	}
	s.metrics.SweepDeletedTotal.Add(float64(summary.Deleted))
	s.metrics.SweepSkippedTotal.Add(float64(summary.SkippedPrivileged))
	s.metrics.SweepFailedTotal.Add(float64(summary.Failed))
}

// splitFullDomain separates a full domain name into its label and parent
// zone at the first dot.
func splitFullDomain(fullDomain string) (label, zone string, ok bool) {
	idx := strings.Index(fullDomain, ".")
	if idx <= 0 || idx == len(fullDomain)-1 {
		return "", "", false
	}
	return fullDomain[:idx], fullDomain[idx+1:], true
}
