// Package ledger persists lease ownership: which owner holds which
// (full domain, record type) pair, with what content, until when.
package ledger

import (
	"time"
)

// Owner is an account that may lease subdomains. Privileged owners are
// exempt from the quota and subject to a relaxed label policy.
type Owner struct {
	ID         string `gorm:"primaryKey"`
	MaxDomains int    `gorm:"not null;default:10"`
	Privileged bool   `gorm:"not null;default:false"`
	CreatedAt  time.Time
}

// Lease records one owner's claim to a (full domain, record type) pair.
// The composite unique index enforces at most one record of each type per
// name across all owners.
type Lease struct {
	ID         uint   `gorm:"primarykey"`
	OwnerID    string `gorm:"index;not null"`
	FullDomain string `gorm:"uniqueIndex:idx_domain_type,priority:1;not null"`
	RecordType string `gorm:"uniqueIndex:idx_domain_type,priority:2;not null"`
	Content    string
	ExpiryDate time.Time `gorm:"index"`
	CreatedAt  time.Time
}

// Renewable reports whether the lease may be renewed: only within one
// renewal window of expiry (or any time after it has lapsed).
func (l *Lease) Renewable(now time.Time, window time.Duration) bool {
	return !l.ExpiryDate.After(now.Add(window))
}

// Renew extends the lease by months, measured from the later of now and the
// current expiry. Renewing early extends from the old expiry; renewing after
// the lease lapsed extends from now.
func (l *Lease) Renew(now time.Time, months int) {
	base := l.ExpiryDate
	if base.Before(now) {
		base = now
	}
	l.ExpiryDate = base.AddDate(0, months, 0)
}
