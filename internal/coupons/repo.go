package coupons

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/solcoupons-backend/internal/repo"
	"github.com/angelmondragon/solcoupons-backend/pkg/db/models"
	"github.com/angelmondragon/solcoupons-backend/pkg/enums"
)

type repository struct {
	base repo.Base
}

// NewRepository returns the SQL-backed coupon repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{base: repo.NewBase(db)}
}

// Ping checks the database connection.
func (r *repository) Ping(ctx context.Context) error {
	sqlDB, err := r.base.DB(ctx).DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (r *repository) ListCouponsByOwner(ctx context.Context, owner string) ([]models.Coupon, error) {
	var list []models.Coupon
	if err := r.base.DB(ctx).
		Where("owner_wallet = ?", owner).
		Order("created_at ASC, id ASC").
		Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (r *repository) GetCoupon(ctx context.Context, id, owner string) (*models.Coupon, error) {
	query := r.base.DB(ctx).Where("id = ?", id)
	if owner != "" {
		query = query.Where("owner_wallet = ?", owner)
	}
	var coupon models.Coupon
	if err := query.First(&coupon).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &coupon, nil
}

func (r *repository) CouponExists(ctx context.Context, id string) (bool, error) {
	var count int64
	if err := r.base.DB(ctx).Model(&models.Coupon{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repository) CreateCoupon(ctx context.Context, coupon *models.Coupon) (*models.Coupon, error) {
	if err := r.base.DB(ctx).Create(coupon).Error; err != nil {
		return nil, err
	}
	return coupon, nil
}

func (r *repository) UpdateCoupon(ctx context.Context, id, owner string, mutate func(*models.Coupon)) (*models.Coupon, error) {
	var updated *models.Coupon
	err := r.base.Tx(ctx, func(tx *gorm.DB) error {
		coupon, err := lockCoupon(tx, id, owner)
		if err != nil || coupon == nil {
			return err
		}
		mutate(coupon)
		if err := tx.Save(coupon).Error; err != nil {
			return err
		}
		updated = coupon
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *repository) AddEvent(ctx context.Context, event *models.CouponEvent) (*models.CouponEvent, error) {
	if err := r.base.DB(ctx).Create(event).Error; err != nil {
		return nil, err
	}
	return event, nil
}

func (r *repository) ListEventsForCoupon(ctx context.Context, couponID, owner string) ([]models.CouponEvent, error) {
	var events []models.CouponEvent
	if err := r.base.DB(ctx).
		Where("coupon_id = ? AND owner_wallet = ?", couponID, owner).
		Order("id ASC").
		Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

func (r *repository) CreateWithEvent(ctx context.Context, coupon *models.Coupon, event *models.CouponEvent) error {
	return r.base.Tx(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(coupon).Error; err != nil {
			return fmt.Errorf("insert coupon: %w", err)
		}
		if err := tx.Create(event).Error; err != nil {
			return fmt.Errorf("insert create event: %w", err)
		}
		return nil
	})
}

func (r *repository) Record(ctx context.Context, m Mutation) (*models.Coupon, *models.CouponEvent, error) {
	if m.Apply == nil {
		return nil, nil, errors.New("mutation apply is required")
	}
	var (
		coupon *models.Coupon
		event  *models.CouponEvent
	)
	err := r.base.Tx(ctx, func(tx *gorm.DB) error {
		locked, err := lockCoupon(tx, m.CouponID, m.OwnerWallet)
		if err != nil || locked == nil {
			return err
		}

		var settling *models.Withdrawal
		if m.WithdrawalID != "" {
			var w models.Withdrawal
			err := repo.ForUpdate(tx).
				Where("id = ? AND coupon_id = ?", m.WithdrawalID, m.CouponID).
				First(&w).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrWithdrawalNotFound
			}
			if err != nil {
				return err
			}
			if m.Settle != nil {
				if err := m.Settle(&w); err != nil {
					return err
				}
			}
			settling = &w
		}

		open, err := openWithdrawals(tx, m.CouponID, m.WithdrawalID)
		if err != nil {
			return err
		}
		next, err := m.Apply(locked, open)
		if err != nil {
			return err
		}
		if next == nil {
			return errors.New("mutation produced no event")
		}

		if err := tx.Save(locked).Error; err != nil {
			return fmt.Errorf("save coupon: %w", err)
		}
		if err := tx.Create(next).Error; err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
		if settling != nil {
			if err := tx.Save(settling).Error; err != nil {
				return fmt.Errorf("save withdrawal: %w", err)
			}
		}
		coupon, event = locked, next
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return coupon, event, nil
}

func (r *repository) ReserveWithdrawal(ctx context.Context, couponID, owner string, build BuildWithdrawal) (*models.Withdrawal, error) {
	var created *models.Withdrawal
	err := r.base.Tx(ctx, func(tx *gorm.DB) error {
		coupon, err := lockCoupon(tx, couponID, owner)
		if err != nil || coupon == nil {
			return err
		}
		open, err := openWithdrawals(tx, couponID, "")
		if err != nil {
			return err
		}
		w, err := build(*coupon, open)
		if err != nil {
			return err
		}
		if err := tx.Create(w).Error; err != nil {
			return fmt.Errorf("insert withdrawal: %w", err)
		}
		created = w
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (r *repository) UpdateWithdrawal(ctx context.Context, id string, mutate func(*models.Withdrawal) error) (*models.Withdrawal, error) {
	var updated *models.Withdrawal
	err := r.base.Tx(ctx, func(tx *gorm.DB) error {
		var w models.Withdrawal
		err := repo.ForUpdate(tx).Where("id = ?", id).First(&w).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := mutate(&w); err != nil {
			return err
		}
		if err := tx.Save(&w).Error; err != nil {
			return err
		}
		updated = &w
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *repository) GetWithdrawal(ctx context.Context, id string) (*models.Withdrawal, error) {
	var w models.Withdrawal
	if err := r.base.DB(ctx).Where("id = ?", id).First(&w).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &w, nil
}

func (r *repository) ListWithdrawalsForCoupon(ctx context.Context, couponID, owner string) ([]models.Withdrawal, error) {
	var list []models.Withdrawal
	if err := r.base.DB(ctx).
		Where("coupon_id = ? AND owner_wallet = ?", couponID, owner).
		Order("created_at ASC, id ASC").
		Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (r *repository) ListWithdrawalsForReconcile(ctx context.Context, olderThan time.Time, limit int) ([]models.Withdrawal, error) {
	query := r.base.DB(ctx).
		Where("status IN ? AND updated_at < ?", enums.OpenWithdrawalStatuses, olderThan).
		Order("updated_at ASC, id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var list []models.Withdrawal
	if err := query.Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func lockCoupon(tx *gorm.DB, id, owner string) (*models.Coupon, error) {
	var coupon models.Coupon
	err := repo.ForUpdate(tx).
		Where("id = ? AND owner_wallet = ?", id, owner).
		First(&coupon).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &coupon, nil
}

func openWithdrawals(tx *gorm.DB, couponID, exclude string) ([]models.Withdrawal, error) {
	query := tx.Where("coupon_id = ? AND status IN ?", couponID, enums.OpenWithdrawalStatuses)
	if exclude != "" {
		query = query.Where("id <> ?", exclude)
	}
	var open []models.Withdrawal
	if err := query.Order("created_at ASC").Find(&open).Error; err != nil {
		return nil, err
	}
	return open, nil
}
