package controllers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/solcoupons-backend/api/responses"
	"github.com/angelmondragon/solcoupons-backend/api/validators"
	"github.com/angelmondragon/solcoupons-backend/internal/coupons"
	"github.com/angelmondragon/solcoupons-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/solcoupons-backend/pkg/errors"
	"github.com/angelmondragon/solcoupons-backend/pkg/logger"
)

const (
	maxWalletLen = 64
	maxLabelLen  = 128
	maxNoteLen   = 280
	maxTxSigLen  = 128
)

type createCouponRequest struct {
	OwnerWallet string          `json:"owner_wallet" validate:"notblank,max=64"`
	Label       string          `json:"label" validate:"notblank,max=128"`
	AmountSOL   decimal.Decimal `json:"amount_sol" validate:"sol"`
	ExpiresAt   *time.Time      `json:"expires_at,omitempty"`
}

type depositRequest struct {
	OwnerWallet string          `json:"owner_wallet" validate:"notblank,max=64"`
	AmountSOL   decimal.Decimal `json:"amount_sol" validate:"sol"`
	TxSig       *string         `json:"tx_sig,omitempty" validate:"omitempty,max=128"`
}

type withdrawRequest struct {
	OwnerWallet string          `json:"owner_wallet" validate:"notblank,max=64"`
	AmountSOL   decimal.Decimal `json:"amount_sol" validate:"sol"`
	Recipient   string          `json:"recipient" validate:"notblank,max=64"`
}

type payRequest struct {
	OwnerWallet string          `json:"owner_wallet" validate:"notblank,max=64"`
	AmountSOL   decimal.Decimal `json:"amount_sol" validate:"sol"`
	Merchant    string          `json:"merchant" validate:"notblank,max=64"`
	Note        *string         `json:"note,omitempty" validate:"omitempty,max=280"`
}

// CreateCoupon issues a new coupon funded with amount_sol.
func CreateCoupon(svc coupons.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "coupon service unavailable"))
			return
		}

		var body createCouponRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Create(r.Context(), coupons.CreateInput{
			OwnerWallet: validators.SanitizeString(body.OwnerWallet, maxWalletLen),
			Label:       validators.SanitizeString(body.Label, maxLabelLen),
			AmountSOL:   body.AmountSOL,
			ExpiresAt:   body.ExpiresAt,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

// ListCoupons returns every coupon owned by the ?owner= wallet.
func ListCoupons(svc coupons.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "coupon service unavailable"))
			return
		}

		owner, err := validators.RequireQueryString(r, "owner", maxWalletLen)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		list, err := svc.ListForOwner(r.Context(), owner)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if list == nil {
			list = []coupons.CouponWithEvents{}
		}

		responses.WriteSuccess(w, list)
	}
}

// CouponHistory returns a single coupon with its ordered events.
func CouponHistory(svc coupons.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "coupon service unavailable"))
			return
		}

		owner, err := validators.RequireQueryString(r, "owner", maxWalletLen)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		history, err := svc.History(r.Context(), chi.URLParam(r, "couponId"), owner)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, history)
	}
}

// DepositCoupon records a credit that already landed in the pool.
func DepositCoupon(svc coupons.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "coupon service unavailable"))
			return
		}

		var body depositRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Deposit(r.Context(), coupons.DepositInput{
			CouponID:    chi.URLParam(r, "couponId"),
			OwnerWallet: validators.SanitizeString(body.OwnerWallet, maxWalletLen),
			AmountSOL:   body.AmountSOL,
			TxSig:       validators.SanitizeOptional(body.TxSig, maxTxSigLen),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, result)
	}
}

// WithdrawCoupon sends SOL from the pool to recipient and debits the coupon
// once the transfer is confirmed.
func WithdrawCoupon(svc coupons.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "coupon service unavailable"))
			return
		}

		var body withdrawRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.WithdrawOnchain(r.Context(), coupons.WithdrawInput{
			CouponID:    chi.URLParam(r, "couponId"),
			OwnerWallet: validators.SanitizeString(body.OwnerWallet, maxWalletLen),
			AmountSOL:   body.AmountSOL,
			Recipient:   validators.SanitizeString(body.Recipient, maxWalletLen),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, result)
	}
}

// PayCoupon debits the coupon off-chain in favour of a merchant.
func PayCoupon(svc coupons.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "coupon service unavailable"))
			return
		}

		var body payRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Pay(r.Context(), coupons.PayInput{
			CouponID:    chi.URLParam(r, "couponId"),
			OwnerWallet: validators.SanitizeString(body.OwnerWallet, maxWalletLen),
			AmountSOL:   body.AmountSOL,
			Merchant:    validators.SanitizeString(body.Merchant, maxWalletLen),
			Note:        validators.SanitizeOptional(body.Note, maxNoteLen),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, result)
	}
}

// CouponWithdrawals lists the withdrawal intents of a coupon, oldest first.
func CouponWithdrawals(svc coupons.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "coupon service unavailable"))
			return
		}

		owner, err := validators.RequireQueryString(r, "owner", maxWalletLen)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		list, err := svc.ListWithdrawals(r.Context(), chi.URLParam(r, "couponId"), owner)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if list == nil {
			list = []models.Withdrawal{}
		}

		responses.WriteSuccess(w, list)
	}
}
