package persistence

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/meterline/backend/internal/domain/account"
	"github.com/meterline/backend/internal/domain/shared"
	"gorm.io/gorm"
)

// AccountModel is the GORM model for metered accounts
type AccountModel struct {
	ID                 uuid.UUID  `gorm:"type:uuid;primaryKey"`
	Tier               string     `gorm:"type:varchar(20);not null"`
	MonthlyLimit       int64      `gorm:"not null;default:0"`
	UsageCount         int64      `gorm:"not null;default:0"`
	BillingPeriodStart time.Time  `gorm:"not null;index"`
	LastReset          *time.Time `gorm:"column:last_reset"`
	CreatedAt          time.Time  `gorm:"not null"`
	UpdatedAt          time.Time  `gorm:"not null"`
}

// TableName returns the table name for the model
func (AccountModel) TableName() string {
	return "accounts"
}

// ToEntity converts the model to a domain entity
func (m *AccountModel) ToEntity() *account.Account {
	return &account.Account{
		BaseEntity: shared.BaseEntity{
			ID:        m.ID,
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		Tier:               account.Tier(m.Tier),
		MonthlyLimit:       m.MonthlyLimit,
		UsageCount:         m.UsageCount,
		BillingPeriodStart: m.BillingPeriodStart.UTC(),
		LastReset:          m.LastReset,
	}
}

// AccountModelFromEntity creates a model from a domain entity
func AccountModelFromEntity(e *account.Account) *AccountModel {
	return &AccountModel{
		ID:                 e.ID,
		Tier:               string(e.Tier),
		MonthlyLimit:       e.MonthlyLimit,
		UsageCount:         e.UsageCount,
		BillingPeriodStart: e.BillingPeriodStart.UTC(),
		LastReset:          e.LastReset,
		CreatedAt:          e.CreatedAt,
		UpdatedAt:          e.UpdatedAt,
	}
}

// incrementSQL is the single conditional write behind quota admission.
// RETURNING hands back the counter this write produced, not a later one.
const incrementSQL = `UPDATE accounts
SET usage_count = usage_count + 1, updated_at = ?
WHERE id = ?
  AND billing_period_start >= ?
  AND (tier = ? OR usage_count < monthly_limit)
RETURNING tier, monthly_limit, usage_count`

type incrementRow struct {
	Tier         string
	MonthlyLimit int64
	UsageCount   int64
}

// AccountRepository implements account.AccountRepository on top of GORM.
// It runs unchanged against PostgreSQL and SQLite.
type AccountRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewAccountRepository creates a new account repository
func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Create persists a newly provisioned account
func (r *AccountRepository) Create(ctx context.Context, acc *account.Account) error {
	model := AccountModelFromEntity(acc)
	return classifyError("create", r.db.WithContext(ctx).Create(model).Error)
}

// FindByID retrieves an account by its ID
func (r *AccountRepository) FindByID(ctx context.Context, id uuid.UUID) (*account.Account, error) {
	var model AccountModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		return nil, classifyError("find", err)
	}
	return model.ToEntity(), nil
}

// IncrementIfAllowed adds one to the counter when the account is current and has room
func (r *AccountRepository) IncrementIfAllowed(ctx context.Context, id uuid.UUID, periodStart time.Time) (*account.Account, bool, error) {
	now := r.now()
	var rows []incrementRow
	err := r.db.WithContext(ctx).
		Raw(incrementSQL, now, id, periodStart.UTC(), string(account.TierUnmetered)).
		Scan(&rows).Error
	if err != nil {
		return nil, false, classifyError("increment", err)
	}
	if len(rows) == 0 {
		return nil, false, nil
	}

	// The predicate only admits rows anchored in the current period.
	return &account.Account{
		BaseEntity:         shared.BaseEntity{ID: id, UpdatedAt: now},
		Tier:               account.Tier(rows[0].Tier),
		MonthlyLimit:       rows[0].MonthlyLimit,
		UsageCount:         rows[0].UsageCount,
		BillingPeriodStart: periodStart.UTC(),
	}, true, nil
}

// ResetIfDue rolls the account into periodStart if it is anchored in an earlier period
func (r *AccountRepository) ResetIfDue(ctx context.Context, id uuid.UUID, periodStart, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&AccountModel{}).
		Where("id = ? AND billing_period_start < ?", id, periodStart.UTC()).
		UpdateColumns(resetColumns(periodStart, now))
	if result.Error != nil {
		return false, classifyError("reset", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// FindDueIDs lists accounts anchored before periodStart in ID order, after the cursor
func (r *AccountRepository) FindDueIDs(ctx context.Context, periodStart time.Time, after uuid.UUID, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&AccountModel{}).
		Where("billing_period_start < ? AND id > ?", periodStart.UTC(), after).
		Order("id ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, classifyError("find_due", err)
	}
	return ids, nil
}

// ForceReset zeroes the counter regardless of its period
func (r *AccountRepository) ForceReset(ctx context.Context, id uuid.UUID, periodStart, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&AccountModel{}).
		Where("id = ?", id).
		UpdateColumns(resetColumns(periodStart, now))
	if result.Error != nil {
		return false, classifyError("force_reset", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// ForceResetAll zeroes every counter
func (r *AccountRepository) ForceResetAll(ctx context.Context, periodStart, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Model(&AccountModel{}).
		UpdateColumns(resetColumns(periodStart, now))
	if result.Error != nil {
		return 0, classifyError("force_reset_all", result.Error)
	}
	return result.RowsAffected, nil
}

// Ping checks the database is reachable
func (r *AccountRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return classifyError("ping", err)
	}
	return classifyError("ping", sqlDB.PingContext(ctx))
}

func resetColumns(periodStart, now time.Time) map[string]any {
	now = now.UTC()
	return map[string]any{
		"usage_count":          0,
		"billing_period_start": periodStart.UTC(),
		"last_reset":           now,
		"updated_at":           now,
	}
}

// Ensure AccountRepository implements the interface
var _ account.AccountRepository = (*AccountRepository)(nil)
