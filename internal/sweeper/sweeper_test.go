package sweeper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leehyunsuck/sub-dns/internal/ledger"
	"github.com/leehyunsuck/sub-dns/internal/lock"
	"github.com/leehyunsuck/sub-dns/internal/syncer"
)

type stubLedger struct {
	leases []ledger.Lease
	owners map[string]*ledger.Owner
}

func (s *stubLedger) FindExpiredBefore(ctx context.Context, cutoff time.Time) ([]ledger.Lease, error) {
	var out []ledger.Lease
	for _, l := range s.leases {
		if l.ExpiryDate.Before(cutoff) {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *stubLedger) GetOwner(ctx context.Context, id string) (*ledger.Owner, error) {
	owner, ok := s.owners[id]
	if !ok {
		return nil, ledger.ErrOwnerNotFound
	}
	return owner, nil
}

type recordingDeleter struct {
	deleted []string
	failFor map[string]error
}

func (d *recordingDeleter) DeleteRecord(ctx context.Context, ownerID, label, zone, recordType string) error {
	full := label + "." + zone
	if err, fails := d.failFor[full]; fails {
		return err
	}
	d.deleted = append(d.deleted, full+"/"+recordType)
	return nil
}

func newSweeper(ldg *stubLedger, deleter *recordingDeleter, locks lock.Locker) *Sweeper {
	return New(ldg, deleter, locks, hclog.NewNullLogger(), nil, 55*time.Second)
}

func TestSweepRetiresOnlyExpiredNonPrivileged(t *testing.T) {
	now := time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC)
	yesterday := now.Add(-24 * time.Hour)
	tomorrow := now.Add(24 * time.Hour)

	ldg := &stubLedger{
		leases: []ledger.Lease{
			{OwnerID: "x", FullDomain: "expired.example.com", RecordType: "A", ExpiryDate: yesterday},
			{OwnerID: "y", FullDomain: "keepme.example.com", RecordType: "A", ExpiryDate: yesterday},
			{OwnerID: "z", FullDomain: "future.example.com", RecordType: "A", ExpiryDate: tomorrow},
		},
		owners: map[string]*ledger.Owner{
			"x": {ID: "x"},
			"y": {ID: "y", Privileged: true},
			"z": {ID: "z"},
		},
	}
	deleter := &recordingDeleter{}
	s := newSweeper(ldg, deleter, lock.NewMemoryLocker())
	s.now = func() time.Time { return now }

	summary, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Expired)
	assert.Equal(t, 1, summary.Deleted)
	assert.Equal(t, 1, summary.SkippedPrivileged)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, []string{"expired.example.com/A"}, deleter.deleted)
}

func TestSweepSkipsWhenAdvisoryLockHeld(t *testing.T) {
	locks := lock.NewMemoryLocker()
	_, ok, err := locks.Acquire(context.Background(), syncer.AdvisoryKey("delete-expiry-domain"), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ldg := &stubLedger{
		leases: []ledger.Lease{
			{OwnerID: "x", FullDomain: "expired.example.com", RecordType: "A", ExpiryDate: time.Time{}},
		},
		owners: map[string]*ledger.Owner{"x": {ID: "x"}},
	}
	deleter := &recordingDeleter{}
	s := newSweeper(ldg, deleter, locks)

	summary, err := s.Run(context.Background())
	require.NoError(t, err)

	// Someone else is sweeping: not an error, and nothing was touched.
	assert.Zero(t, summary)
	assert.Empty(t, deleter.deleted)
}

func TestSweepFailuresDoNotAbortTheRest(t *testing.T) {
	now := time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC)
	yesterday := now.Add(-24 * time.Hour)

	ldg := &stubLedger{
		leases: []ledger.Lease{
			{OwnerID: "x", FullDomain: "first.example.com", RecordType: "A", ExpiryDate: yesterday},
			{OwnerID: "x", FullDomain: "broken.example.com", RecordType: "A", ExpiryDate: yesterday},
			{OwnerID: "x", FullDomain: "last.example.com", RecordType: "TXT", ExpiryDate: yesterday},
		},
		owners: map[string]*ledger.Owner{"x": {ID: "x"}},
	}
	deleter := &recordingDeleter{
		failFor: map[string]error{"broken.example.com": errors.New("remote down")},
	}
	s := newSweeper(ldg, deleter, lock.NewMemoryLocker())
	s.now = func() time.Time { return now }

	summary, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Deleted)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, []string{"first.example.com/A", "last.example.com/TXT"}, deleter.deleted)
}

func TestSweepUnknownOwnerCountsAsFailure(t *testing.T) {
	now := time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC)
	ldg := &stubLedger{
		leases: []ledger.Lease{
			{OwnerID: "ghost", FullDomain: "orphan.example.com", RecordType: "A", ExpiryDate: now.Add(-24 * time.Hour)},
		},
		owners: map[string]*ledger.Owner{},
	}
	deleter := &recordingDeleter{}
	s := newSweeper(ldg, deleter, lock.NewMemoryLocker())
	s.now = func() time.Time { return now }

	summary, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Empty(t, deleter.deleted)
}
