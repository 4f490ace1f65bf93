package coupons

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/solcoupons-backend/pkg/db/models"
	"github.com/angelmondragon/solcoupons-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/solcoupons-backend/pkg/errors"
	"github.com/angelmondragon/solcoupons-backend/pkg/logger"
	"github.com/angelmondragon/solcoupons-backend/pkg/metrics"
	"github.com/angelmondragon/solcoupons-backend/pkg/transfer"
)

const (
	maxIDAttempts         = 5
	defaultConfirmTimeout = 45 * time.Second
	defaultSubmitTimeout  = 15 * time.Second
	defaultPollInterval   = time.Second
	amountScale           = 9
)

var errWithdrawalResolved = errors.New("withdrawal already resolved")

// Service is the coupon ledger. It is the only writer of coupon balances.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*Result, error)
	Deposit(ctx context.Context, input DepositInput) (*Result, error)
	WithdrawOnchain(ctx context.Context, input WithdrawInput) (*Result, error)
	Pay(ctx context.Context, input PayInput) (*Result, error)
	History(ctx context.Context, couponID, owner string) (*CouponWithEvents, error)
	ListForOwner(ctx context.Context, owner string) ([]CouponWithEvents, error)
	ListWithdrawals(ctx context.Context, couponID, owner string) ([]models.Withdrawal, error)
	ReconcileWithdrawal(ctx context.Context, withdrawal models.Withdrawal) (ReconcileOutcome, error)
}

// ServiceParams wires the ledger dependencies.
type ServiceParams struct {
	Repo           Repository
	Transfer       transfer.Client
	PoolAddress    string
	Logger         *logger.Logger
	Metrics        *metrics.LedgerMetrics
	ConfirmTimeout time.Duration
	// SubmitTimeout bounds one Submit call, including any client-side throttling.
	SubmitTimeout  time.Duration
	PollInterval   time.Duration
	Now            func() time.Time
	NewID          func() string
}

type service struct {
	repo           Repository
	transfer       transfer.Client
	poolAddress    string
	logg           *logger.Logger
	metrics        *metrics.LedgerMetrics
	confirmTimeout time.Duration
	submitTimeout  time.Duration
	pollInterval   time.Duration
	now            func() time.Time
	newID          func() string
}

// NewService validates dependencies and returns the ledger service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("coupon repository required")
	}
	if params.Transfer == nil {
		return nil, fmt.Errorf("transfer client required")
	}
	if strings.TrimSpace(params.PoolAddress) == "" {
		return nil, fmt.Errorf("pool address required")
	}
	if params.Logger == nil {
		params.Logger = logger.Discard()
	}
	if params.ConfirmTimeout <= 0 {
		params.ConfirmTimeout = defaultConfirmTimeout
	}
	if params.SubmitTimeout <= 0 {
		params.SubmitTimeout = defaultSubmitTimeout
	}
	if params.PollInterval <= 0 {
		params.PollInterval = defaultPollInterval
	}
	if params.Now == nil {
		params.Now = func() time.Time { return time.Now().UTC() }
	}
	if params.NewID == nil {
		params.NewID = uuid.NewString
	}
	return &service{
		repo:           params.Repo,
		transfer:       params.Transfer,
		poolAddress:    params.PoolAddress,
		logg:           params.Logger,
		metrics:        params.Metrics,
		confirmTimeout: params.ConfirmTimeout,
		submitTimeout:  params.SubmitTimeout,
		pollInterval:   params.PollInterval,
		now:            params.Now,
		newID:          params.NewID,
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (result *Result, err error) {
	defer s.observe("create", &err)

	owner := strings.TrimSpace(input.OwnerWallet)
	label := strings.TrimSpace(input.Label)
	if owner == "" {
		return nil, invalid("owner_wallet", "owner wallet is required")
	}
	if label == "" {
		return nil, invalid("label", "label is required")
	}
	if err := validateAmount(input.AmountSOL); err != nil {
		return nil, err
	}

	id, err := s.uniqueCouponID(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	coupon := &models.Coupon{
		ID:                 id,
		Label:              label,
		OwnerWallet:        owner,
		InitialAmountSOL:   input.AmountSOL,
		RemainingAmountSOL: input.AmountSOL,
		ExpiresAt:          input.ExpiresAt,
		PoolAddress:        s.poolAddress,
		CreatedAt:          now,
	}
	event := &models.CouponEvent{
		CouponID:    id,
		OwnerWallet: owner,
		Type:        enums.CouponEventTypeCreate,
		AmountSOL:   input.AmountSOL,
		ToAddress:   owner,
		CreatedAt:   now,
	}
	if err := s.repo.CreateWithEvent(ctx, coupon, event); err != nil {
		return nil, storeError(err, "create coupon")
	}

	s.logg.Info(s.logCtx(ctx, id, owner), "coupon.created")
	return &Result{Coupon: *coupon, Event: *event}, nil
}

func (s *service) Deposit(ctx context.Context, input DepositInput) (result *Result, err error) {
	defer s.observe("deposit", &err)

	couponID, owner, err := requireTarget(input.CouponID, input.OwnerWallet)
	if err != nil {
		return nil, err
	}
	if err := validateAmount(input.AmountSOL); err != nil {
		return nil, err
	}
	txSig := trimmedOrNil(input.TxSig)

	coupon, event, err := s.repo.Record(ctx, Mutation{
		CouponID:    couponID,
		OwnerWallet: owner,
		Apply: func(c *models.Coupon, _ []models.Withdrawal) (*models.CouponEvent, error) {
			balance := c.RemainingAmountSOL.Add(input.AmountSOL)
			if balance.GreaterThan(transfer.MaxAmountSOL) {
				return nil, invalid("amount_sol", "deposit would exceed the maximum coupon balance")
			}
			c.RemainingAmountSOL = balance
			return &models.CouponEvent{
				CouponID:    c.ID,
				OwnerWallet: c.OwnerWallet,
				Type:        enums.CouponEventTypeDeposit,
				AmountSOL:   input.AmountSOL,
				ToAddress:   c.OwnerWallet,
				TxSig:       txSig,
				CreatedAt:   s.now(),
			}, nil
		},
	})
	if err != nil {
		return nil, storeError(err, "record deposit")
	}
	if coupon == nil {
		return nil, notFound()
	}

	s.logg.Info(s.logCtx(ctx, couponID, owner), "coupon.deposit")
	return &Result{Coupon: *coupon, Event: *event}, nil
}

func (s *service) Pay(ctx context.Context, input PayInput) (result *Result, err error) {
	defer s.observe("pay", &err)

	couponID, owner, err := requireTarget(input.CouponID, input.OwnerWallet)
	if err != nil {
		return nil, err
	}
	if err := validateAmount(input.AmountSOL); err != nil {
		return nil, err
	}
	merchant := strings.TrimSpace(input.Merchant)
	if merchant == "" {
		return nil, invalid("merchant", "merchant is required")
	}
	note := trimmedOrNil(input.Note)

	coupon, event, err := s.repo.Record(ctx, Mutation{
		CouponID:    couponID,
		OwnerWallet: owner,
		Apply: func(c *models.Coupon, open []models.Withdrawal) (*models.CouponEvent, error) {
			if err := ensureAvailable(*c, open, input.AmountSOL); err != nil {
				return nil, err
			}
			c.RemainingAmountSOL = c.RemainingAmountSOL.Sub(input.AmountSOL)
			return &models.CouponEvent{
				CouponID:    c.ID,
				OwnerWallet: c.OwnerWallet,
				Type:        enums.CouponEventTypePay,
				AmountSOL:   input.AmountSOL,
				ToAddress:   merchant,
				Note:        note,
				CreatedAt:   s.now(),
			}, nil
		},
	})
	if err != nil {
		return nil, storeError(err, "record payment")
	}
	if coupon == nil {
		return nil, notFound()
	}

	s.logg.Info(s.logg.WithField(s.logCtx(ctx, couponID, owner), "merchant", merchant), "coupon.pay")
	return &Result{Coupon: *coupon, Event: *event}, nil
}

// WithdrawOnchain reserves the amount with a pending intent, submits exactly
// one transfer and records the debit only after the network confirms it.
func (s *service) WithdrawOnchain(ctx context.Context, input WithdrawInput) (result *Result, err error) {
	defer s.observe("withdraw", &err)

	couponID, owner, err := requireTarget(input.CouponID, input.OwnerWallet)
	if err != nil {
		return nil, err
	}
	if err := validateAmount(input.AmountSOL); err != nil {
		return nil, err
	}
	recipient := strings.TrimSpace(input.Recipient)
	if recipient == "" {
		return nil, invalid("recipient", "recipient is required")
	}

	intent, err := s.repo.ReserveWithdrawal(ctx, couponID, owner, func(c models.Coupon, open []models.Withdrawal) (*models.Withdrawal, error) {
		if err := ensureAvailable(c, open, input.AmountSOL); err != nil {
			return nil, err
		}
		now := s.now()
		return &models.Withdrawal{
			ID:          s.newID(),
			CouponID:    c.ID,
			OwnerWallet: c.OwnerWallet,
			Recipient:   recipient,
			AmountSOL:   input.AmountSOL,
			Status:      enums.WithdrawalStatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		}, nil
	})
	if err != nil {
		return nil, storeError(err, "reserve withdrawal")
	}
	if intent == nil {
		return nil, notFound()
	}

	// The transfer outlives the caller: once submitted its outcome must be observed.
	opCtx := context.WithoutCancel(ctx)
	logCtx := s.logg.WithField(s.logCtx(opCtx, couponID, owner), "withdrawal_id", intent.ID)
	started := s.now()

	submitCtx, cancelSubmit := context.WithTimeout(opCtx, s.submitTimeout)
	sig, err := s.transfer.Submit(submitCtx, transfer.Request{
		Reference:   intent.ID,
		Destination: recipient,
		Amount:      input.AmountSOL,
	})
	cancelSubmit()
	if err != nil {
		if transfer.IsRejected(err) {
			s.markFailed(logCtx, intent.ID, err.Error())
			s.metrics.ObserveWithdraw("rejected", s.now().Sub(started))
			return nil, pkgerrors.Wrap(pkgerrors.CodeTransferFailed, err, "transfer rejected").
				WithDetails(map[string]any{"withdrawal_id": intent.ID})
		}
		// Unknown outcome: the intent stays pending and keeps its reservation.
		s.logg.WarnErr(logCtx, "withdraw.submit_unknown", err)
		s.metrics.ObserveWithdraw("unknown", s.now().Sub(started))
		return nil, pkgerrors.Wrap(pkgerrors.CodeTransferUnconfirmed, err, "transfer submission outcome unknown").
			WithDetails(map[string]any{"withdrawal_id": intent.ID})
	}
	logCtx = s.logg.WithField(logCtx, "tx_sig", sig)
	s.markSubmitted(logCtx, intent.ID, sig)

	awaitCtx, cancel := context.WithTimeout(opCtx, s.confirmTimeout)
	defer cancel()
	status, awaitErr := transfer.Await(awaitCtx, s.transfer, sig, s.pollInterval)

	switch status {
	case transfer.StatusConfirmed:
		s.metrics.ObserveWithdraw("confirmed", s.now().Sub(started))
		coupon, event, err := s.settleConfirmed(opCtx, *intent, sig)
		if err != nil {
			s.logg.Error(logCtx, "withdraw.settle_failed", err)
			if errors.Is(err, errWithdrawalResolved) {
				return nil, pkgerrors.New(pkgerrors.CodeConflict, "withdrawal already resolved").
					WithDetails(map[string]any{"withdrawal_id": intent.ID, "tx_sig": sig})
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "transfer confirmed but ledger update pending reconciliation").
				WithDetails(map[string]any{"withdrawal_id": intent.ID, "tx_sig": sig})
		}
		if coupon == nil {
			return nil, notFound()
		}
		s.logg.Info(logCtx, "coupon.withdraw")
		return &Result{Coupon: *coupon, Event: *event}, nil

	case transfer.StatusFailed:
		s.metrics.ObserveWithdraw("failed", s.now().Sub(started))
		s.markFailed(logCtx, intent.ID, awaitErr.Error())
		return nil, pkgerrors.Wrap(pkgerrors.CodeTransferFailed, awaitErr, "transfer failed on-chain").
			WithDetails(map[string]any{"withdrawal_id": intent.ID, "tx_sig": sig})

	default:
		s.metrics.ObserveWithdraw("unconfirmed", s.now().Sub(started))
		s.logg.WarnErr(logCtx, "withdraw.unconfirmed", awaitErr)
		return nil, pkgerrors.Wrap(pkgerrors.CodeTransferUnconfirmed, awaitErr, "transfer not confirmed in time").
			WithDetails(map[string]any{"withdrawal_id": intent.ID, "tx_sig": sig})
	}
}

func (s *service) History(ctx context.Context, couponID, owner string) (*CouponWithEvents, error) {
	couponID, owner, err := requireTarget(couponID, owner)
	if err != nil {
		return nil, err
	}
	coupon, err := s.repo.GetCoupon(ctx, couponID, owner)
	if err != nil {
		return nil, storeError(err, "load coupon")
	}
	if coupon == nil {
		return nil, notFound()
	}
	annotated, err := s.annotate(ctx, *coupon)
	if err != nil {
		return nil, err
	}
	return &annotated, nil
}

func (s *service) ListForOwner(ctx context.Context, owner string) ([]CouponWithEvents, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return nil, invalid("owner_wallet", "owner wallet is required")
	}
	list, err := s.repo.ListCouponsByOwner(ctx, owner)
	if err != nil {
		return nil, storeError(err, "list coupons")
	}
	out := make([]CouponWithEvents, 0, len(list))
	for _, coupon := range list {
		annotated, err := s.annotate(ctx, coupon)
		if err != nil {
			return nil, err
		}
		out = append(out, annotated)
	}
	return out, nil
}

func (s *service) ListWithdrawals(ctx context.Context, couponID, owner string) ([]models.Withdrawal, error) {
	couponID, owner, err := requireTarget(couponID, owner)
	if err != nil {
		return nil, err
	}
	coupon, err := s.repo.GetCoupon(ctx, couponID, owner)
	if err != nil {
		return nil, storeError(err, "load coupon")
	}
	if coupon == nil {
		return nil, notFound()
	}
	list, err := s.repo.ListWithdrawalsForCoupon(ctx, couponID, owner)
	if err != nil {
		return nil, storeError(err, "list withdrawals")
	}
	return list, nil
}

// ReconcileWithdrawal resolves an open intent left behind by a timeout or crash.
// It never submits a transfer.
func (s *service) ReconcileWithdrawal(ctx context.Context, w models.Withdrawal) (ReconcileOutcome, error) {
	if !w.Status.IsOpen() {
		return ReconcileSkipped, nil
	}
	logCtx := s.logg.WithField(s.logCtx(ctx, w.CouponID, w.OwnerWallet), "withdrawal_id", w.ID)

	sig := ""
	if w.TxSig != nil {
		sig = *w.TxSig
	}
	if sig == "" {
		found, ok, err := s.transfer.Lookup(ctx, w.ID)
		if err != nil {
			return ReconcilePending, fmt.Errorf("lookup transfer for withdrawal %s: %w", w.ID, err)
		}
		if !ok {
			// The original Submit may still be running until its deadline passes.
			if s.now().Sub(w.CreatedAt) <= s.submitTimeout {
				return ReconcilePending, nil
			}
			if _, err := s.resolveFailed(ctx, w.ID, "transfer was never submitted"); err != nil {
				return ReconcilePending, err
			}
			s.logg.Info(logCtx, "reconcile.withdrawal_failed")
			return ReconcileFailed, nil
		}
		sig = found
		s.markSubmitted(logCtx, w.ID, sig)
	}

	status, err := s.transfer.Status(ctx, sig)
	if err != nil {
		return ReconcilePending, fmt.Errorf("transfer status for withdrawal %s: %w", w.ID, err)
	}

	switch status {
	case transfer.StatusConfirmed:
		coupon, _, err := s.settleConfirmed(ctx, w, sig)
		if errors.Is(err, errWithdrawalResolved) {
			return ReconcileSkipped, nil
		}
		if err != nil {
			return ReconcilePending, fmt.Errorf("settle withdrawal %s: %w", w.ID, err)
		}
		if coupon == nil {
			return ReconcilePending, fmt.Errorf("coupon %s missing for withdrawal %s", w.CouponID, w.ID)
		}
		s.logg.Info(logCtx, "reconcile.withdrawal_completed")
		return ReconcileCompleted, nil
	case transfer.StatusFailed:
		if _, err := s.resolveFailed(ctx, w.ID, "transfer failed on-chain"); err != nil {
			return ReconcilePending, err
		}
		s.logg.Info(logCtx, "reconcile.withdrawal_failed")
		return ReconcileFailed, nil
	default:
		return ReconcilePending, nil
	}
}

func (s *service) settleConfirmed(ctx context.Context, w models.Withdrawal, sig string) (*models.Coupon, *models.CouponEvent, error) {
	return s.repo.Record(ctx, Mutation{
		CouponID:     w.CouponID,
		OwnerWallet:  w.OwnerWallet,
		WithdrawalID: w.ID,
		Settle: func(current *models.Withdrawal) error {
			if !current.Status.IsOpen() {
				return errWithdrawalResolved
			}
			now := s.now()
			current.Status = enums.WithdrawalStatusCompleted
			current.TxSig = &sig
			current.UpdatedAt = now
			current.ResolvedAt = &now
			return nil
		},
		Apply: func(c *models.Coupon, _ []models.Withdrawal) (*models.CouponEvent, error) {
			if c.RemainingAmountSOL.LessThan(w.AmountSOL) {
				return nil, pkgerrors.New(pkgerrors.CodeInsufficientBalance, "confirmed withdrawal exceeds remaining balance")
			}
			c.RemainingAmountSOL = c.RemainingAmountSOL.Sub(w.AmountSOL)
			withdrawalID := w.ID
			return &models.CouponEvent{
				CouponID:     c.ID,
				OwnerWallet:  c.OwnerWallet,
				Type:         enums.CouponEventTypeWithdraw,
				AmountSOL:    w.AmountSOL,
				ToAddress:    w.Recipient,
				TxSig:        &sig,
				WithdrawalID: &withdrawalID,
				CreatedAt:    s.now(),
			}, nil
		},
	})
}

func (s *service) markSubmitted(ctx context.Context, id, sig string) {
	_, err := s.repo.UpdateWithdrawal(ctx, id, func(w *models.Withdrawal) error {
		if !w.Status.IsOpen() {
			return errWithdrawalResolved
		}
		w.Status = enums.WithdrawalStatusSubmitted
		w.TxSig = &sig
		w.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		s.logg.WarnErr(ctx, "withdraw.mark_submitted_failed", err)
	}
}

func (s *service) markFailed(ctx context.Context, id, reason string) {
	if _, err := s.resolveFailed(ctx, id, reason); err != nil {
		s.logg.Error(ctx, "withdraw.mark_failed_failed", err)
	}
}

func (s *service) resolveFailed(ctx context.Context, id, reason string) (*models.Withdrawal, error) {
	w, err := s.repo.UpdateWithdrawal(ctx, id, func(w *models.Withdrawal) error {
		if !w.Status.IsOpen() {
			return errWithdrawalResolved
		}
		now := s.now()
		w.Status = enums.WithdrawalStatusFailed
		w.FailureReason = &reason
		w.UpdatedAt = now
		w.ResolvedAt = &now
		return nil
	})
	if errors.Is(err, errWithdrawalResolved) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mark withdrawal %s failed: %w", id, err)
	}
	return w, nil
}

func (s *service) annotate(ctx context.Context, coupon models.Coupon) (CouponWithEvents, error) {
	events, err := s.repo.ListEventsForCoupon(ctx, coupon.ID, coupon.OwnerWallet)
	if err != nil {
		return CouponWithEvents{}, storeError(err, "list coupon events")
	}
	withdrawals, err := s.repo.ListWithdrawalsForCoupon(ctx, coupon.ID, coupon.OwnerWallet)
	if err != nil {
		return CouponWithEvents{}, storeError(err, "list withdrawals")
	}
	if events == nil {
		events = []models.CouponEvent{}
	}
	reserved := reservedAmount(withdrawals)
	return CouponWithEvents{
		Coupon:       coupon,
		ReservedSOL:  reserved,
		AvailableSOL: coupon.RemainingAmountSOL.Sub(reserved),
		Events:       events,
	}, nil
}

func (s *service) uniqueCouponID(ctx context.Context) (string, error) {
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id := s.newID()
		exists, err := s.repo.CouponExists(ctx, id)
		if err != nil {
			return "", storeError(err, "check coupon id")
		}
		if !exists {
			return id, nil
		}
		s.logg.Warn(s.logg.WithField(ctx, "coupon_id", id), "coupon.id_collision")
	}
	return "", pkgerrors.New(pkgerrors.CodeInternal, "could not allocate a unique coupon id")
}

func (s *service) logCtx(ctx context.Context, couponID, owner string) context.Context {
	ctx = s.logg.WithCouponID(ctx, couponID)
	return s.logg.WithOwnerWallet(ctx, owner)
}

func (s *service) observe(operation string, errp *error) {
	outcome := "ok"
	if errp != nil && *errp != nil {
		outcome = string(pkgerrors.As(*errp).Code())
	}
	s.metrics.ObserveOperation(operation, outcome)
}

func ensureAvailable(coupon models.Coupon, open []models.Withdrawal, amount decimal.Decimal) error {
	reserved := reservedAmount(open)
	available := coupon.RemainingAmountSOL.Sub(reserved)
	if amount.GreaterThan(available) {
		return pkgerrors.New(pkgerrors.CodeInsufficientBalance, "amount exceeds available balance").
			WithDetails(map[string]any{
				"remaining_sol": coupon.RemainingAmountSOL.String(),
				"reserved_sol":  reserved.String(),
				"requested_sol": amount.String(),
			})
	}
	return nil
}

func reservedAmount(withdrawals []models.Withdrawal) decimal.Decimal {
	total := decimal.Zero
	for _, w := range withdrawals {
		if w.Status.IsOpen() {
			total = total.Add(w.AmountSOL)
		}
	}
	return total
}

func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return invalid("amount_sol", "amount must be positive")
	}
	if !amount.Equal(amount.Truncate(amountScale)) {
		return invalid("amount_sol", "amount must have at most 9 decimal places")
	}
	if amount.GreaterThan(transfer.MaxAmountSOL) {
		return invalid("amount_sol", "amount exceeds "+transfer.MaxAmountSOL.String()+" SOL")
	}
	return nil
}

func requireTarget(couponID, owner string) (string, string, error) {
	couponID = strings.TrimSpace(couponID)
	owner = strings.TrimSpace(owner)
	if couponID == "" {
		return "", "", invalid("coupon_id", "coupon id is required")
	}
	if owner == "" {
		return "", "", invalid("owner_wallet", "owner wallet is required")
	}
	return couponID, owner, nil
}

func trimmedOrNil(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func invalid(field, message string) error {
	return pkgerrors.New(pkgerrors.CodeValidation, message).WithDetails(map[string]string{field: message})
}

func notFound() error {
	return pkgerrors.New(pkgerrors.CodeNotFound, "coupon not found")
}

// storeError keeps typed errors raised inside a unit and wraps everything else.
func storeError(err error, action string) error {
	if typed := pkgerrors.As(err); typed != nil {
		return typed
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, action)
}
