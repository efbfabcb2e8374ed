// Package syncer keeps the authoritative DNS provider and the local lease
// ledger consistent while enforcing domain policy, per-domain mutual
// exclusion, quotas, and CNAME exclusivity.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/miekg/dns"
	"golang.org/x/net/idna"

	"github.com/leehyunsuck/sub-dns/internal/ledger"
	"github.com/leehyunsuck/sub-dns/internal/lock"
	"github.com/leehyunsuck/sub-dns/internal/obs"
	"github.com/leehyunsuck/sub-dns/internal/pdns"
	"github.com/leehyunsuck/sub-dns/internal/policy"
)

// Provider is the slice of the authoritative service's API the synchronizer
// mutates through.
type Provider interface {
	Search(ctx context.Context, fullDomain string) ([]pdns.SearchResult, error)
	Replace(ctx context.Context, zone, fullDomain, recordType, content string) error
	Delete(ctx context.Context, zone, fullDomain, recordType string) error
	DeleteZone(ctx context.Context, zone string) error
}

// Ledger is the slice of the ownership store the synchronizer needs.
type Ledger interface {
	GetOwner(ctx context.Context, id string) (*ledger.Owner, error)
	SaveLease(ctx context.Context, lease *ledger.Lease) error
	SaveLeases(ctx context.Context, leases []ledger.Lease) error
	DeleteLease(ctx context.Context, fullDomain, recordType string) error
	DeleteZoneLeases(ctx context.Context, zone string) (int64, error)
	FindLease(ctx context.Context, fullDomain, recordType string) (*ledger.Lease, error)
	FindByDomain(ctx context.Context, fullDomain string) ([]ledger.Lease, error)
	FindByOwnerAndDomain(ctx context.Context, ownerID, fullDomain string) ([]ledger.Lease, error)
	CountDistinctDomains(ctx context.Context, ownerID string) (int64, error)
}

type Config struct {
	LockTTL       time.Duration // per-domain mutation lock, default 55s
	RenewalWindow time.Duration // how close to expiry a lease must be to renew
	RenewalMonths int           // extension granted per renewal
	LeaseMonths   int           // initial lease length
	DefaultQuota  int           // distinct-domain quota for owners without one
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.LockTTL <= 0 {
		out.LockTTL = 55 * time.Second
	}
	if out.RenewalWindow <= 0 {
		out.RenewalWindow = 30 * 24 * time.Hour
	}
	if out.RenewalMonths <= 0 {
		out.RenewalMonths = 6
	}
	if out.LeaseMonths <= 0 {
		out.LeaseMonths = 6
	}
	if out.DefaultQuota <= 0 {
		out.DefaultQuota = 10
	}
	return out
}

// Synchronizer orchestrates add/delete/renew across the provider and the
// ledger. All mutations of one full domain name are serialized by a
// TTL-bounded lock; operations on different names run concurrently.
type Synchronizer struct {
	provider Provider
	ledger   Ledger
	locks    lock.Locker
	log      hclog.Logger
	metrics  *obs.Metrics
	cfg      Config

	// injected for testability; zero value means time.Now
	now func() time.Time
}

func New(provider Provider, ldg Ledger, locks lock.Locker, log hclog.Logger, metrics *obs.Metrics, cfg Config) *Synchronizer {
	return &Synchronizer{
		provider: provider,
		ledger:   ldg,
		locks:    locks,
		log:      log,
		metrics:  metrics,
		cfg:      cfg.withDefaults(),
		now:      time.Now,
	}
}

// decision is the ownership context computed once per operation; the
// branching below reads it instead of re-deriving state mid-flight. The first
// lease found for a name is representative: the add path keeps every lease
// under one name on one owner.
type decision struct {
	domainLeased  bool
	ownedByCaller bool
}

func lockKey(fullDomain string) string {
	return "domain-lock:" + fullDomain
}

const advisoryKeyPrefix = "scheduler:"

// AdvisoryKey names a cluster-wide advisory lock, distinct from the
// per-domain key space.
func AdvisoryKey(name string) string {
	return advisoryKeyPrefix + name
}

func normalizeName(s string) (string, error) {
	ascii, err := idna.ToASCII(strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(ascii, "."), nil
}

// wireContent canonicalizes content for the provider: TXT payloads are
// quoted and CNAME targets fully qualified, as the RRset API requires.
func wireContent(recordType, content string) string {
	switch recordType {
	case "TXT":
		return `"` + content + `"`
	case "CNAME":
		return dns.Fqdn(content)
	}
	return content
}

func (s *Synchronizer) count(op, result string) {
	if s.metrics == nil {
		return
	}
	s.metrics.SyncOpsTotal.WithLabelValues(op, result).Inc()
}

func (s *Synchronizer) result(op string, err error) error {
	switch {
	case err == nil:
		s.count(op, "success")
	case errors.Is(err, ErrPolicyViolation):
		s.count(op, "policy")
	case errors.Is(err, ErrNotOwner):
		s.count(op, "not_owner")
	case errors.Is(err, ErrQuotaExceeded):
		s.count(op, "quota")
	case errors.Is(err, ErrBusy):
		s.count(op, "busy")
	case errors.Is(err, ErrRemoteRejected):
		s.count(op, "remote_rejected")
	case errors.Is(err, ErrLedgerWrite):
		s.count(op, "ledger_write")
	default:
		s.count(op, "error")
	}
	return err
}

// AddRecord leases (label.zone, recordType) to ownerID with the given
// content, replacing any previous content for that type and displacing
// conflicting records when CNAME exclusivity demands it.
func (s *Synchronizer) AddRecord(ctx context.Context, ownerID, label, zone, recordType, content string) error {
	return s.result("add", s.addRecord(ctx, ownerID, label, zone, recordType, content))
}

func (s *Synchronizer) addRecord(ctx context.Context, ownerID, label, zone, recordType, content string) error {
	label, zone, recordType, err := normalizeInput(label, zone, recordType)
	if err != nil {
		return err
	}

	owner, err := s.ledger.GetOwner(ctx, ownerID)
	if errors.Is(err, ledger.ErrOwnerNotFound) {
		return ErrOwnerNotFound
	}
	if err != nil {
		return fmt.Errorf("load owner %s: %w", ownerID, err)
	}

	if !policy.ValidLabel(label, owner.Privileged) {
		return fmt.Errorf("%w: label %q not permitted", ErrPolicyViolation, label)
	}
	if !policy.ValidContent(recordType, content) {
		return fmt.Errorf("%w: invalid %s content", ErrPolicyViolation, recordType)
	}

	fullDomain := label + "." + zone

	dec, err := s.decide(ctx, ownerID, fullDomain)
	if err != nil {
		return err
	}
	if dec.domainLeased && !dec.ownedByCaller {
		return fmt.Errorf("%w: %s", ErrNotOwner, fullDomain)
	}
	if !owner.Privileged && !dec.ownedByCaller {
		quota := owner.MaxDomains
		if quota <= 0 {
			quota = s.cfg.DefaultQuota
		}
		held, err := s.ledger.CountDistinctDomains(ctx, ownerID)
		if err != nil {
			return fmt.Errorf("count domains for %s: %w", ownerID, err)
		}
		if held >= int64(quota) {
			return fmt.Errorf("%w: %d of %d domains held", ErrQuotaExceeded, held, quota)
		}
	}

	token, acquired, err := s.locks.Acquire(ctx, lockKey(fullDomain), s.cfg.LockTTL)
	if err != nil {
		return fmt.Errorf("acquire lock for %s: %w", fullDomain, err)
	}
	if !acquired {
		return fmt.Errorf("%w: %s", ErrBusy, fullDomain)
	}
	defer s.release(ctx, fullDomain, token)

	// The remote search and every write below happen under the lock, so two
	// concurrent adds cannot both observe "no CNAME" and both write.
	existing, err := s.provider.Search(ctx, fullDomain)
	if err != nil {
		return fmt.Errorf("%w: search %s: %v", ErrRemoteRejected, fullDomain, err)
	}
	alreadyCNAME := false
	for _, rec := range existing {
		if strings.EqualFold(rec.Type, "CNAME") {
			alreadyCNAME = true
			break
		}
	}

	// CNAME exclusivity: a CNAME displaces everything, and anything
	// displaces a CNAME.
	mixing := (recordType == "CNAME" && (dec.domainLeased || len(existing) > 0)) ||
		(recordType != "CNAME" && alreadyCNAME)
	if mixing {
		types, err := s.recordTypesUnder(ctx, fullDomain, existing)
		if err != nil {
			return err
		}
		if err := s.deleteTypesLocked(ctx, label, zone, types); err != nil {
			return err
		}
	}

	lease := &ledger.Lease{
		OwnerID:    ownerID,
		FullDomain: fullDomain,
		RecordType: recordType,
		Content:    content,
		ExpiryDate: s.now().AddDate(0, s.cfg.LeaseMonths, 0),
	}
	return s.commit(ctx,
		func() error { return s.provider.Replace(ctx, zone, fullDomain, recordType, wireContent(recordType, content)) },
		func() error { return s.ledger.SaveLease(ctx, lease) },
		func() error { return s.provider.Delete(ctx, zone, fullDomain, recordType) },
		"owner", ownerID, "domain", fullDomain, "type", recordType, "content", content,
		"record_present_on", "remote",
	)
}

// DeleteRecord removes (label.zone, recordType) from both the provider and
// the ledger. Deleting a type absent from the ledger succeeds; the remote
// state decides what "gone" means.
func (s *Synchronizer) DeleteRecord(ctx context.Context, ownerID, label, zone, recordType string) error {
	return s.result("delete", s.deleteRecord(ctx, ownerID, label, zone, recordType))
}

func (s *Synchronizer) deleteRecord(ctx context.Context, ownerID, label, zone, recordType string) error {
	label, zone, recordType, err := normalizeInput(label, zone, recordType)
	if err != nil {
		return err
	}
	fullDomain := label + "." + zone

	if err := s.requireOwnership(ctx, ownerID, fullDomain); err != nil {
		return err
	}

	token, acquired, err := s.locks.Acquire(ctx, lockKey(fullDomain), s.cfg.LockTTL)
	if err != nil {
		return fmt.Errorf("acquire lock for %s: %w", fullDomain, err)
	}
	if !acquired {
		return fmt.Errorf("%w: %s", ErrBusy, fullDomain)
	}
	defer s.release(ctx, fullDomain, token)

	return s.deleteLocked(ctx, label, zone, recordType)
}

// DeleteAllRecords releases the name entirely: every record type under
// label.zone is removed from the provider and the ledger.
func (s *Synchronizer) DeleteAllRecords(ctx context.Context, ownerID, label, zone string) error {
	return s.result("delete", s.deleteAllRecords(ctx, ownerID, label, zone))
}

func (s *Synchronizer) deleteAllRecords(ctx context.Context, ownerID, label, zone string) error {
	label, err := normalizeName(label)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPolicyViolation, err)
	}
	zone, err = normalizeName(zone)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPolicyViolation, err)
	}
	fullDomain := label + "." + zone

	if err := s.requireOwnership(ctx, ownerID, fullDomain); err != nil {
		return err
	}

	token, acquired, err := s.locks.Acquire(ctx, lockKey(fullDomain), s.cfg.LockTTL)
	if err != nil {
		return fmt.Errorf("acquire lock for %s: %w", fullDomain, err)
	}
	if !acquired {
		return fmt.Errorf("%w: %s", ErrBusy, fullDomain)
	}
	defer s.release(ctx, fullDomain, token)

	existing, err := s.provider.Search(ctx, fullDomain)
	if err != nil {
		return fmt.Errorf("%w: search %s: %v", ErrRemoteRejected, fullDomain, err)
	}
	types, err := s.recordTypesUnder(ctx, fullDomain, existing)
	if err != nil {
		return err
	}
	return s.deleteTypesLocked(ctx, label, zone, types)
}

// Renew extends every lease the owner holds on fullDomain. Fails unless the
// earliest expiry is within the renewal window.
func (s *Synchronizer) Renew(ctx context.Context, ownerID, fullDomain string) error {
	return s.result("renew", s.renew(ctx, ownerID, fullDomain))
}

func (s *Synchronizer) renew(ctx context.Context, ownerID, fullDomain string) error {
	fullDomain, err := normalizeName(fullDomain)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPolicyViolation, err)
	}

	leases, err := s.ledger.FindByOwnerAndDomain(ctx, ownerID, fullDomain)
	if err != nil {
		return fmt.Errorf("find leases for %s: %w", fullDomain, err)
	}
	if len(leases) == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, fullDomain)
	}

	now := s.now()
	earliest := leases[0]
	for _, l := range leases[1:] {
		if l.ExpiryDate.Before(earliest.ExpiryDate) {
			earliest = l
		}
	}
	if !earliest.Renewable(now, s.cfg.RenewalWindow) {
		return fmt.Errorf("%w: %s expires %s", ErrNotRenewable, fullDomain, earliest.ExpiryDate.Format("2006-01-02"))
	}

	for i := range leases {
		leases[i].Renew(now, s.cfg.RenewalMonths)
	}
	if err := s.ledger.SaveLeases(ctx, leases); err != nil {
		return fmt.Errorf("%w: renew %s: %v", ErrLedgerWrite, fullDomain, err)
	}

	s.log.Info("leases renewed", "owner", ownerID, "domain", fullDomain, "count", len(leases))
	return nil
}

// PurgeZone tears down an entire parent zone on the provider and drops every
// lease under it. Administrative use only; there is no compensation for a
// zone delete, so a ledger failure here is logged as reconciliation work.
func (s *Synchronizer) PurgeZone(ctx context.Context, zone string) error {
	zone, err := normalizeName(zone)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPolicyViolation, err)
	}

	if err := s.provider.DeleteZone(ctx, zone); err != nil {
		return fmt.Errorf("%w: delete zone %s: %v", ErrRemoteRejected, zone, err)
	}

	removed, err := s.ledger.DeleteZoneLeases(ctx, zone)
	if err != nil {
		s.reconciliationRequired("zone", zone, "ledger_error", err, "record_present_on", "ledger")
		return fmt.Errorf("%w: purge zone %s: %v", ErrLedgerWrite, zone, err)
	}

	s.log.Info("zone purged", "zone", zone, "leases_removed", removed)
	return nil
}

// deleteLocked is the delete core: caller must hold the domain lock.
func (s *Synchronizer) deleteLocked(ctx context.Context, label, zone, recordType string) error {
	fullDomain := label + "." + zone

	prior, err := s.ledger.FindLease(ctx, fullDomain, recordType)
	if err != nil {
		return fmt.Errorf("find lease %s %s: %w", fullDomain, recordType, err)
	}

	if prior == nil {
		// Nothing in the ledger: just make sure the remote agrees it is
		// gone. Success even when it was already absent.
		if err := s.provider.Delete(ctx, zone, fullDomain, recordType); err != nil {
			return fmt.Errorf("%w: delete %s %s: %v", ErrRemoteRejected, fullDomain, recordType, err)
		}
		return nil
	}

	priorContent := prior.Content
	return s.commit(ctx,
		func() error { return s.provider.Delete(ctx, zone, fullDomain, recordType) },
		func() error { return s.ledger.DeleteLease(ctx, fullDomain, recordType) },
		func() error {
			return s.provider.Replace(ctx, zone, fullDomain, recordType, wireContent(recordType, priorContent))
		},
		"owner", prior.OwnerID, "domain", fullDomain, "type", recordType, "content", priorContent,
		"record_present_on", "ledger",
	)
}

// recordTypesUnder merges the record types the remote reports with those the
// ledger holds for the name, so a cleanup clears both sides even when they
// disagree.
func (s *Synchronizer) recordTypesUnder(ctx context.Context, fullDomain string, existing []pdns.SearchResult) ([]string, error) {
	seen := map[string]struct{}{}
	var types []string
	add := func(recordType string) {
		recordType = strings.ToUpper(recordType)
		if _, done := seen[recordType]; done {
			return
		}
		seen[recordType] = struct{}{}
		types = append(types, recordType)
	}
	for _, rec := range existing {
		add(rec.Type)
	}
	leases, err := s.ledger.FindByDomain(ctx, fullDomain)
	if err != nil {
		return nil, fmt.Errorf("find leases for %s: %w", fullDomain, err)
	}
	for _, l := range leases {
		add(l.RecordType)
	}
	return types, nil
}

// deleteTypesLocked removes the given record types under label.zone. Caller
// must hold the domain lock.
func (s *Synchronizer) deleteTypesLocked(ctx context.Context, label, zone string, types []string) error {
	for _, recordType := range types {
		if err := s.deleteLocked(ctx, label, zone, recordType); err != nil {
			return err
		}
	}
	return nil
}

// commit is the shared remote-then-ledger write with compensation: apply the
// remote change, then the ledger change; if the ledger fails, attempt the
// inverse remote change, and if that also fails flag the divergence for
// manual reconciliation. Both mutation paths run through here.
func (s *Synchronizer) commit(ctx context.Context, remote, ledgerOp, inverse func() error, logFields ...interface{}) error {
	if err := remote(); err != nil {
		return fmt.Errorf("%w: %v", ErrRemoteRejected, err)
	}
	if err := ledgerOp(); err != nil {
		if ierr := inverse(); ierr != nil {
			s.reconciliationRequired(append(logFields, "ledger_error", err, "compensation_error", ierr)...)
		} else {
			s.log.Warn("ledger write failed, remote change compensated", append(logFields, "error", err)...)
		}
		return fmt.Errorf("%w: %v", ErrLedgerWrite, err)
	}
	return nil
}

func (s *Synchronizer) reconciliationRequired(logFields ...interface{}) {
	s.log.Error("reconciliation required: ledger and authoritative service diverged", logFields...)
	if s.metrics != nil {
		s.metrics.ReconciliationTotal.Inc()
	}
}

func (s *Synchronizer) decide(ctx context.Context, ownerID, fullDomain string) (decision, error) {
	leases, err := s.ledger.FindByDomain(ctx, fullDomain)
	if err != nil {
		return decision{}, fmt.Errorf("find leases for %s: %w", fullDomain, err)
	}
	dec := decision{domainLeased: len(leases) > 0}
	if dec.domainLeased {
		dec.ownedByCaller = leases[0].OwnerID == ownerID
	}
	return dec, nil
}

// requireOwnership fails when the name is leased by someone other than the
// caller. A name with no leases at all passes: on the delete path the
// remote's state decides, and repeating a completed delete stays a success.
func (s *Synchronizer) requireOwnership(ctx context.Context, ownerID, fullDomain string) error {
	dec, err := s.decide(ctx, ownerID, fullDomain)
	if err != nil {
		return err
	}
	if dec.domainLeased && !dec.ownedByCaller {
		return fmt.Errorf("%w: %s", ErrNotOwner, fullDomain)
	}
	return nil
}

func (s *Synchronizer) release(ctx context.Context, fullDomain, token string) {
	if err := s.locks.Release(ctx, lockKey(fullDomain), token); err != nil {
		s.log.Warn("failed to release domain lock, it will expire on its own",
			"domain", fullDomain, "error", err)
	}
}

func normalizeInput(label, zone, recordType string) (string, string, string, error) {
	normLabel, err := normalizeName(label)
	if err != nil || normLabel == "" {
		return "", "", "", fmt.Errorf("%w: invalid label %q", ErrPolicyViolation, label)
	}
	normZone, err := normalizeName(zone)
	if err != nil || normZone == "" {
		return "", "", "", fmt.Errorf("%w: invalid zone %q", ErrPolicyViolation, zone)
	}
	recordType = strings.ToUpper(strings.TrimSpace(recordType))
	if !policy.ValidType(recordType) {
		return "", "", "", fmt.Errorf("%w: unsupported record type %q", ErrPolicyViolation, recordType)
	}
	return normLabel, normZone, recordType, nil
}
