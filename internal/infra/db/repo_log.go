package db

import (
	"context"
	"errors"
	"time"

	"github.com/opencontainers/go-digest"
	"gorm.io/gorm"

	"provd/internal/domain"
)

type LogRepository struct {
	db    *gorm.DB
	clock func() time.Time
}

func NewLogRepository(db *gorm.DB) *LogRepository {
	return &LogRepository{db: db, clock: time.Now}
}

func NewLogRepositoryWithClock(db *gorm.DB, clock func() time.Time) *LogRepository {
	return &LogRepository{db: db, clock: clock}
}

// Concurrent appends can read the same MAX(log_index); the unique index
// rejects the later commit, which rereads and tries again.
const appendAttempts = 5

// Append assigns the next index inside a transaction and persists the
// entry, retrying on index collision with a concurrent writer.
func (r *LogRepository) Append(ctx context.Context, entry domain.LogEntry) (int64, error) {
	if r.db == nil {
		return 0, errDBUnavailable
	}
	if err := entry.Validate(); err != nil {
		return 0, err
	}

	var lastErr error
	for attempt := 0; attempt < appendAttempts; attempt++ {
		index, err := r.appendOnce(ctx, entry)
		if err == nil {
			return index, nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return 0, err
		}
		lastErr = err
	}
	return 0, lastErr
}

func (r *LogRepository) appendOnce(ctx context.Context, entry domain.LogEntry) (int64, error) {
	tx := r.db.WithContext(ctx).Begin()
	if err := tx.Error; err != nil {
		return 0, err
	}

	var maxIndex int64
	if err := tx.Model(&LogEntryModel{}).
		Select("COALESCE(MAX(log_index), -1)").
		Scan(&maxIndex).Error; err != nil {
		_ = tx.Rollback()
		return 0, err
	}

	model := LogEntryModel{
		LogIndex:       maxIndex + 1,
		PackageName:    entry.PackageName,
		PackageFamily:  domain.NormalizePackage(entry.PackageName),
		ArtifactHash:   entry.ArtifactHash.String(),
		SignerIdentity: entry.SignerIdentity,
		SigningTime:    entry.SigningTime.UTC(),
		CertValidFrom:  entry.CertValidFrom.UTC(),
		CertValidUntil: entry.CertValidUntil.UTC(),
		LoggedAt:       r.clock().UTC(),
	}
	if err := tx.Create(&model).Error; err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	if err := tx.Commit().Error; err != nil {
		return 0, err
	}
	return model.LogIndex, nil
}

func (r *LogRepository) FindByHash(ctx context.Context, hash digest.Digest) (*domain.LogEntry, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model LogEntryModel
	err := r.db.WithContext(ctx).
		Where("artifact_hash = ?", hash.String()).
		Order("log_index ASC").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	entry := toEntry(model)
	return &entry, nil
}

func (r *LogRepository) FindByIdentity(ctx context.Context, identity string) ([]domain.LogEntry, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []LogEntryModel
	err := r.db.WithContext(ctx).
		Where("signer_identity = ?", identity).
		Order("log_index ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return toEntries(models), nil
}

// FindByPackage matches every logged spelling of the package family,
// newest signing time first.
func (r *LogRepository) FindByPackage(ctx context.Context, packageName string) ([]domain.LogEntry, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []LogEntryModel
	err := r.db.WithContext(ctx).
		Where("package_family = ?", domain.NormalizePackage(packageName)).
		Order("signing_time DESC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return toEntries(models), nil
}

func (r *LogRepository) FindNewerThan(ctx context.Context, packageName string, signingTime time.Time) ([]domain.LogEntry, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []LogEntryModel
	err := r.db.WithContext(ctx).
		Where("package_family = ? AND signing_time > ?", domain.NormalizePackage(packageName), signingTime.UTC()).
		Order("signing_time DESC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return toEntries(models), nil
}

func (r *LogRepository) Reset(ctx context.Context) error {
	if r.db == nil {
		return errDBUnavailable
	}
	return r.db.WithContext(ctx).
		Where("log_index >= 0").
		Delete(&LogEntryModel{}).Error
}

func toEntry(model LogEntryModel) domain.LogEntry {
	return domain.LogEntry{
		LogIndex:       model.LogIndex,
		PackageName:    model.PackageName,
		ArtifactHash:   digest.Digest(model.ArtifactHash),
		SignerIdentity: model.SignerIdentity,
		SigningTime:    model.SigningTime,
		CertValidFrom:  model.CertValidFrom,
		CertValidUntil: model.CertValidUntil,
		LoggedAt:       model.LoggedAt,
	}
}

func toEntries(models []LogEntryModel) []domain.LogEntry {
	out := make([]domain.LogEntry, 0, len(models))
	for _, model := range models {
		out = append(out, toEntry(model))
	}
	return out
}
