package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// ErrOwnerNotFound is returned by GetOwner for unknown owner IDs.
var ErrOwnerNotFound = errors.New("ledger: owner not found")

// Store is the gorm-backed ledger.
type Store struct {
	db *gorm.DB
}

func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: open %s: %w", path, err)
	}
	if err := db.AutoMigrate(&Owner{}, &Lease{}); err != nil {
		return nil, fmt.Errorf("ledger: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) GetOwner(ctx context.Context, id string) (*Owner, error) {
	var owner Owner
	err := s.db.WithContext(ctx).First(&owner, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOwnerNotFound
	}
	if err != nil {
		return nil, err
	}
	return &owner, nil
}

func (s *Store) CreateOwner(ctx context.Context, owner *Owner) error {
	return s.db.WithContext(ctx).Create(owner).Error
}

// SaveLease inserts the lease, or updates owner/content/expiry in place when
// the (full domain, record type) pair already exists. Re-adding a type you
// already hold is a content replace, not a duplicate row.
func (s *Store) SaveLease(ctx context.Context, lease *Lease) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "full_domain"}, {Name: "record_type"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"owner_id", "content", "expiry_date",
		}),
	}).Create(lease).Error
}

func (s *Store) SaveLeases(ctx context.Context, leases []Lease) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range leases {
			if err := tx.Save(&leases[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) DeleteLease(ctx context.Context, fullDomain, recordType string) error {
	return s.db.WithContext(ctx).
		Where("full_domain = ? AND record_type = ?", fullDomain, recordType).
		Delete(&Lease{}).Error
}

// DeleteZoneLeases removes every lease directly under zone. Administrative
// zone teardown only.
func (s *Store) DeleteZoneLeases(ctx context.Context, zone string) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("full_domain LIKE ?", "%."+zone).
		Delete(&Lease{})
	return res.RowsAffected, res.Error
}

func (s *Store) FindLease(ctx context.Context, fullDomain, recordType string) (*Lease, error) {
	var lease Lease
	err := s.db.WithContext(ctx).
		First(&lease, "full_domain = ? AND record_type = ?", fullDomain, recordType).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &lease, nil
}

func (s *Store) FindByDomain(ctx context.Context, fullDomain string) ([]Lease, error) {
	var leases []Lease
	err := s.db.WithContext(ctx).
		Where("full_domain = ?", fullDomain).
		Find(&leases).Error
	return leases, err
}

func (s *Store) FindByOwner(ctx context.Context, ownerID string) ([]Lease, error) {
	var leases []Lease
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("full_domain, record_type").
		Find(&leases).Error
	return leases, err
}

func (s *Store) FindByOwnerAndDomain(ctx context.Context, ownerID, fullDomain string) ([]Lease, error) {
	var leases []Lease
	err := s.db.WithContext(ctx).
		Where("owner_id = ? AND full_domain = ?", ownerID, fullDomain).
		Order("expiry_date").
		Find(&leases).Error
	return leases, err
}

func (s *Store) FindExpiredBefore(ctx context.Context, cutoff time.Time) ([]Lease, error) {
	var leases []Lease
	err := s.db.WithContext(ctx).
		Where("expiry_date < ?", cutoff).
		Find(&leases).Error
	return leases, err
}

func (s *Store) CountDistinctDomains(ctx context.Context, ownerID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Lease{}).
		Where("owner_id = ?", ownerID).
		Distinct("full_domain").
		Count(&count).Error
	return count, err
}

func (s *Store) ExistsFullDomain(ctx context.Context, fullDomain string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Lease{}).
		Where("full_domain = ?", fullDomain).
		Count(&count).Error
	return count > 0, err
}
