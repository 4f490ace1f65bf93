package filestore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/solcoupons-backend/internal/coupons"
	"github.com/angelmondragon/solcoupons-backend/pkg/db/models"
	"github.com/angelmondragon/solcoupons-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/solcoupons-backend/pkg/errors"
	"github.com/angelmondragon/solcoupons-backend/pkg/metrics"
	"github.com/angelmondragon/solcoupons-backend/pkg/transfer"
)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func newStore(t *testing.T, dir string) (*Store, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	store, err := New(Options{Dir: dir, Metrics: metrics.NewLedgerMetrics(reg)})
	require.NoError(t, err)
	return store, reg
}

func newLedger(t *testing.T, store *Store, tr transfer.Client) coupons.Service {
	t.Helper()
	svc, err := coupons.NewService(coupons.ServiceParams{
		Repo:           store,
		Transfer:       tr,
		PoolAddress:    "POOL",
		ConfirmTimeout: 200 * time.Millisecond,
		PollInterval:   time.Millisecond,
	})
	require.NoError(t, err)
	return svc
}

func TestNewRequiresDir(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
}

func TestStore_PersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	store, _ := newStore(t, dir)
	svc := newLedger(t, store, transfer.NewSimulator())
	ctx := context.Background()

	created, err := svc.Create(ctx, coupons.CreateInput{OwnerWallet: "W1", Label: "Lunch", AmountSOL: d("2.5")})
	require.NoError(t, err)
	_, err = svc.Pay(ctx, coupons.PayInput{CouponID: created.Coupon.ID, OwnerWallet: "W1", AmountSOL: d("1.0"), Merchant: "M1"})
	require.NoError(t, err)

	for _, name := range []string{"coupons.json", "events.json"} {
		_, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err, name)
	}

	reopened, _ := newStore(t, dir)
	history, err := newLedger(t, reopened, transfer.NewSimulator()).History(ctx, created.Coupon.ID, "W1")
	require.NoError(t, err)
	assert.True(t, history.RemainingAmountSOL.Equal(d("1.5")))
	require.Len(t, history.Events, 2)
	assert.Equal(t, enums.CouponEventTypeCreate, history.Events[0].Type)
	assert.Equal(t, enums.CouponEventTypePay, history.Events[1].Type)
	assert.Equal(t, uint64(1), history.Events[0].ID)
	assert.Equal(t, uint64(2), history.Events[1].ID)
	assert.Equal(t, "M1", history.Events[1].ToAddress)
}

func TestStore_MissingFilesReadEmpty(t *testing.T) {
	store, reg := newStore(t, t.TempDir())
	list, err := store.ListCouponsByOwner(context.Background(), "W1")
	require.NoError(t, err)
	assert.Empty(t, list)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		assert.NotEqual(t, "solcoupons_store_corruption_total", mf.GetName())
	}
}

func TestStore_CorruptCollectionReadsEmptyAndIsQuarantined(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "coupons.json"), []byte("{not json"), 0o644))
	store, reg := newStore(t, dir)
	ctx := context.Background()

	list, err := store.ListCouponsByOwner(ctx, "W1")
	require.NoError(t, err)
	assert.Empty(t, list)

	count, err := testutil.GatherAndCount(reg, "solcoupons_store_corruption_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	svc := newLedger(t, store, transfer.NewSimulator())
	created, err := svc.Create(ctx, coupons.CreateInput{OwnerWallet: "W1", Label: "Fresh", AmountSOL: d("1")})
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var quarantined []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "coupons.json.corrupt-") {
			quarantined = append(quarantined, e.Name())
		}
	}
	require.Len(t, quarantined, 1)
	raw, err := os.ReadFile(filepath.Join(dir, quarantined[0]))
	require.NoError(t, err)
	assert.Equal(t, "{not json", string(raw))

	history, err := svc.History(ctx, created.Coupon.ID, "W1")
	require.NoError(t, err)
	assert.Equal(t, "Fresh", history.Label)
}

func TestStore_RecordRollsBackOnFailedWrite(t *testing.T) {
	dir := t.TempDir()
	store, _ := newStore(t, dir)
	svc := newLedger(t, store, transfer.NewSimulator())
	ctx := context.Background()

	created, err := svc.Create(ctx, coupons.CreateInput{OwnerWallet: "W1", Label: "Lunch", AmountSOL: d("2")})
	require.NoError(t, err)

	store.write = func(path string, data []byte) error {
		if filepath.Base(path) == "events.json" {
			return errors.New("disk full")
		}
		return writeAtomic(path, data)
	}

	_, err = svc.Pay(ctx, coupons.PayInput{CouponID: created.Coupon.ID, OwnerWallet: "W1", AmountSOL: d("1"), Merchant: "M1"})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeDependency))

	coupon, err := store.GetCoupon(ctx, created.Coupon.ID, "W1")
	require.NoError(t, err)
	require.NotNil(t, coupon)
	assert.True(t, coupon.RemainingAmountSOL.Equal(d("2")), "balance must be restored, got %s", coupon.RemainingAmountSOL)

	store.write = writeAtomic
	events, err := store.ListEventsForCoupon(ctx, created.Coupon.ID, "W1")
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestStore_OwnerScoping(t *testing.T) {
	store, _ := newStore(t, t.TempDir())
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, store.CreateWithEvent(ctx,
		&models.Coupon{ID: "c1", Label: "A", OwnerWallet: "W1", InitialAmountSOL: d("1"), RemainingAmountSOL: d("1"), PoolAddress: "P", CreatedAt: now},
		&models.CouponEvent{CouponID: "c1", OwnerWallet: "W1", Type: enums.CouponEventTypeCreate, AmountSOL: d("1"), ToAddress: "W1", CreatedAt: now},
	))

	got, err := store.GetCoupon(ctx, "c1", "W2")
	require.NoError(t, err)
	assert.Nil(t, got)
	exists, err := store.CouponExists(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, exists)
	events, err := store.ListEventsForCoupon(ctx, "c1", "W2")
	require.NoError(t, err)
	assert.Empty(t, events)

	updated, err := store.UpdateCoupon(ctx, "c1", "W2", func(c *models.Coupon) { c.Label = "stolen" })
	require.NoError(t, err)
	assert.Nil(t, updated)
	updated, err = store.UpdateCoupon(ctx, "c1", "W1", func(c *models.Coupon) { c.Label = "B" })
	require.NoError(t, err)
	assert.Equal(t, "B", updated.Label)
}

func TestStore_WithdrawalLifecycleAndReconcileListing(t *testing.T) {
	store, _ := newStore(t, t.TempDir())
	sim := transfer.NewSimulator()
	sim.ConfirmAfter = 1 << 20
	svc, err := coupons.NewService(coupons.ServiceParams{
		Repo:           store,
		Transfer:       sim,
		PoolAddress:    "POOL",
		ConfirmTimeout: 5 * time.Millisecond,
		PollInterval:   time.Millisecond,
	})
	require.NoError(t, err)
	ctx := context.Background()

	created, err := svc.Create(ctx, coupons.CreateInput{OwnerWallet: "W1", Label: "Lunch", AmountSOL: d("1.5")})
	require.NoError(t, err)
	_, err = svc.WithdrawOnchain(ctx, coupons.WithdrawInput{CouponID: created.Coupon.ID, OwnerWallet: "W1", AmountSOL: d("1"), Recipient: "R1"})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeTransferUnconfirmed), "got %v", err)

	open, err := store.ListWithdrawalsForReconcile(ctx, time.Now().UTC().Add(time.Minute), 0)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, enums.WithdrawalStatusSubmitted, open[0].Status)

	none, err := store.ListWithdrawalsForReconcile(ctx, time.Now().UTC().Add(-time.Minute), 0)
	require.NoError(t, err)
	assert.Empty(t, none)

	sim.ConfirmAfter = 0
	outcome, err := svc.ReconcileWithdrawal(ctx, open[0])
	require.NoError(t, err)
	assert.Equal(t, coupons.ReconcileCompleted, outcome)

	history, err := svc.History(ctx, created.Coupon.ID, "W1")
	require.NoError(t, err)
	assert.True(t, history.RemainingAmountSOL.Equal(d("0.5")))
	require.Len(t, history.Events, 2)
	require.NotNil(t, history.Events[1].WithdrawalID)
	assert.Equal(t, open[0].ID, *history.Events[1].WithdrawalID)

	stored, err := store.GetWithdrawal(ctx, open[0].ID)
	require.NoError(t, err)
	assert.Equal(t, enums.WithdrawalStatusCompleted, stored.Status)
}

func TestStore_ConcurrentWithdrawalsNeverOverdraw(t *testing.T) {
	store, _ := newStore(t, t.TempDir())
	svc := newLedger(t, store, transfer.NewSimulator())
	ctx := context.Background()

	created, err := svc.Create(ctx, coupons.CreateInput{OwnerWallet: "W1", Label: "Lunch", AmountSOL: d("1")})
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.WithdrawOnchain(ctx, coupons.WithdrawInput{CouponID: created.Coupon.ID, OwnerWallet: "W1", AmountSOL: d("0.3"), Recipient: "R"})
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, successes)
	history, err := svc.History(ctx, created.Coupon.ID, "W1")
	require.NoError(t, err)
	assert.True(t, history.RemainingAmountSOL.Equal(d("0.1")), "remaining %s", history.RemainingAmountSOL)
}

func TestStore_UnknownWithdrawalStatusIsTreatedAsCorruption(t *testing.T) {
	dir := t.TempDir()
	raw := `[{"id":"w1","coupon_id":"c1","owner_wallet":"W1","status":"lost","updated_at":"2026-01-01T00:00:00Z"}]`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "withdrawals.json"), []byte(raw), 0o644))
	store, reg := newStore(t, dir)

	open, err := store.ListWithdrawalsForReconcile(context.Background(), time.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, open)

	count, err := testutil.GatherAndCount(reg, "solcoupons_store_corruption_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
