// Package filestore keeps coupons, events and withdrawal intents as JSON
// collections on disk. Every write rewrites the whole collection file.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/angelmondragon/solcoupons-backend/internal/coupons"
	"github.com/angelmondragon/solcoupons-backend/pkg/db/models"
	"github.com/angelmondragon/solcoupons-backend/pkg/logger"
	"github.com/angelmondragon/solcoupons-backend/pkg/metrics"
)

const (
	collectionCoupons     = "coupons"
	collectionEvents      = "events"
	collectionWithdrawals = "withdrawals"
)

// Store implements coupons.Repository. A single mutex serializes every
// read-modify-write cycle across the three collections.
type Store struct {
	dir     string
	logg    *logger.Logger
	metrics *metrics.LedgerMetrics
	now     func() time.Time
	write   func(path string, data []byte) error

	mu         sync.Mutex
	quarantine map[string]bool
}

// Options configures a Store.
type Options struct {
	Dir     string
	Logger  *logger.Logger
	Metrics *metrics.LedgerMetrics
	Now     func() time.Time
}

var _ coupons.Repository = (*Store)(nil)

// New creates the data directory if needed and returns a Store.
func New(opts Options) (*Store, error) {
	if opts.Dir == "" {
		return nil, errors.New("data dir is required")
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Store{
		dir:        opts.Dir,
		logg:       opts.Logger,
		metrics:    opts.Metrics,
		now:        opts.Now,
		write:      writeAtomic,
		quarantine: make(map[string]bool),
	}, nil
}

// Ping checks that the data directory is still reachable.
func (s *Store) Ping(ctx context.Context) error {
	info, err := os.Stat(s.dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", s.dir)
	}
	return nil
}

func (s *Store) ListCouponsByOwner(ctx context.Context, owner string) ([]models.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Coupon
	for _, c := range readCollection[models.Coupon](ctx, s, collectionCoupons) {
		if c.OwnerWallet == owner {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Store) GetCoupon(ctx context.Context, id, owner string) (*models.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := readCollection[models.Coupon](ctx, s, collectionCoupons)
	if i := findCoupon(list, id, owner); i >= 0 {
		c := list[i]
		return &c, nil
	}
	return nil, nil
}

func (s *Store) CouponExists(ctx context.Context, id string) (bool, error) {
	c, err := s.GetCoupon(ctx, id, "")
	return c != nil, err
}

func (s *Store) CreateCoupon(ctx context.Context, coupon *models.Coupon) (*models.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := append(readCollection[models.Coupon](ctx, s, collectionCoupons), *coupon)
	if err := s.commit(ctx, pending(collectionCoupons, list)); err != nil {
		return nil, err
	}
	return coupon, nil
}

func (s *Store) UpdateCoupon(ctx context.Context, id, owner string, mutate func(*models.Coupon)) (*models.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := readCollection[models.Coupon](ctx, s, collectionCoupons)
	i := findCoupon(list, id, owner)
	if i < 0 {
		return nil, nil
	}
	mutate(&list[i])
	if err := s.commit(ctx, pending(collectionCoupons, list)); err != nil {
		return nil, err
	}
	updated := list[i]
	return &updated, nil
}

func (s *Store) AddEvent(ctx context.Context, event *models.CouponEvent) (*models.CouponEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	events := readCollection[models.CouponEvent](ctx, s, collectionEvents)
	event.ID = nextEventID(events)
	events = append(events, *event)
	if err := s.commit(ctx, pending(collectionEvents, events)); err != nil {
		return nil, err
	}
	return event, nil
}

func (s *Store) ListEventsForCoupon(ctx context.Context, couponID, owner string) ([]models.CouponEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.CouponEvent
	for _, e := range readCollection[models.CouponEvent](ctx, s, collectionEvents) {
		if e.CouponID == couponID && e.OwnerWallet == owner {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) CreateWithEvent(ctx context.Context, coupon *models.Coupon, event *models.CouponEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := append(readCollection[models.Coupon](ctx, s, collectionCoupons), *coupon)
	events := readCollection[models.CouponEvent](ctx, s, collectionEvents)
	event.ID = nextEventID(events)
	events = append(events, *event)
	return s.commit(ctx, pending(collectionCoupons, list), pending(collectionEvents, events))
}

func (s *Store) Record(ctx context.Context, m coupons.Mutation) (*models.Coupon, *models.CouponEvent, error) {
	if m.Apply == nil {
		return nil, nil, errors.New("mutation apply is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	list := readCollection[models.Coupon](ctx, s, collectionCoupons)
	i := findCoupon(list, m.CouponID, m.OwnerWallet)
	if i < 0 {
		return nil, nil, nil
	}
	withdrawals := readCollection[models.Withdrawal](ctx, s, collectionWithdrawals)

	writes := []pendingWrite{}
	if m.WithdrawalID != "" {
		j := findWithdrawal(withdrawals, m.WithdrawalID)
		if j < 0 || withdrawals[j].CouponID != m.CouponID {
			return nil, nil, coupons.ErrWithdrawalNotFound
		}
		if m.Settle != nil {
			if err := m.Settle(&withdrawals[j]); err != nil {
				return nil, nil, err
			}
		}
		writes = append(writes, pending(collectionWithdrawals, withdrawals))
	}

	coupon := list[i]
	event, err := m.Apply(&coupon, openFor(withdrawals, m.CouponID, m.WithdrawalID))
	if err != nil {
		return nil, nil, err
	}
	if event == nil {
		return nil, nil, errors.New("mutation produced no event")
	}
	list[i] = coupon

	events := readCollection[models.CouponEvent](ctx, s, collectionEvents)
	event.ID = nextEventID(events)
	events = append(events, *event)

	// Coupon first: a failed event write rolls the balance back.
	writes = append([]pendingWrite{pending(collectionCoupons, list), pending(collectionEvents, events)}, writes...)
	if err := s.commit(ctx, writes...); err != nil {
		return nil, nil, err
	}
	return &coupon, event, nil
}

func (s *Store) ReserveWithdrawal(ctx context.Context, couponID, owner string, build coupons.BuildWithdrawal) (*models.Withdrawal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := readCollection[models.Coupon](ctx, s, collectionCoupons)
	i := findCoupon(list, couponID, owner)
	if i < 0 {
		return nil, nil
	}
	withdrawals := readCollection[models.Withdrawal](ctx, s, collectionWithdrawals)
	w, err := build(list[i], openFor(withdrawals, couponID, ""))
	if err != nil {
		return nil, err
	}
	withdrawals = append(withdrawals, *w)
	if err := s.commit(ctx, pending(collectionWithdrawals, withdrawals)); err != nil {
		return nil, err
	}
	return w, nil
}

func (s *Store) UpdateWithdrawal(ctx context.Context, id string, mutate func(*models.Withdrawal) error) (*models.Withdrawal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	withdrawals := readCollection[models.Withdrawal](ctx, s, collectionWithdrawals)
	j := findWithdrawal(withdrawals, id)
	if j < 0 {
		return nil, nil
	}
	if err := mutate(&withdrawals[j]); err != nil {
		return nil, err
	}
	if err := s.commit(ctx, pending(collectionWithdrawals, withdrawals)); err != nil {
		return nil, err
	}
	updated := withdrawals[j]
	return &updated, nil
}

func (s *Store) GetWithdrawal(ctx context.Context, id string) (*models.Withdrawal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	withdrawals := readCollection[models.Withdrawal](ctx, s, collectionWithdrawals)
	if j := findWithdrawal(withdrawals, id); j >= 0 {
		w := withdrawals[j]
		return &w, nil
	}
	return nil, nil
}

func (s *Store) ListWithdrawalsForCoupon(ctx context.Context, couponID, owner string) ([]models.Withdrawal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Withdrawal
	for _, w := range readCollection[models.Withdrawal](ctx, s, collectionWithdrawals) {
		if w.CouponID == couponID && w.OwnerWallet == owner {
			out = append(out, w)
		}
	}
	return out, nil
}

func (s *Store) ListWithdrawalsForReconcile(ctx context.Context, olderThan time.Time, limit int) ([]models.Withdrawal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Withdrawal
	for _, w := range readCollection[models.Withdrawal](ctx, s, collectionWithdrawals) {
		if w.Status.IsOpen() && w.UpdatedAt.Before(olderThan) {
			out = append(out, w)
		}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].UpdatedAt.Before(out[b].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) path(collection string) string {
	return filepath.Join(s.dir, collection+".json")
}

// readCollection loads a collection. Missing files read as empty. Unreadable
// or malformed files also read as empty, are logged and counted, and are moved
// aside before the next write to that collection.
func readCollection[T any](ctx context.Context, s *Store, collection string) []T {
	raw, err := os.ReadFile(s.path(collection))
	if errors.Is(err, os.ErrNotExist) {
		return []T{}
	}
	if err == nil {
		var out []T
		if err = json.Unmarshal(raw, &out); err == nil {
			if out == nil {
				out = []T{}
			}
			return out
		}
	}

	s.quarantine[collection] = true
	s.metrics.IncStoreCorruption(collection)
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"collection": collection,
		"path":       s.path(collection),
	})
	s.logg.WarnErr(logCtx, "store.corruption", err)
	return []T{}
}

type pendingWrite struct {
	collection string
	value      any
}

func pending(collection string, value any) pendingWrite {
	return pendingWrite{collection: collection, value: value}
}

type snapshot struct {
	collection string
	existed    bool
	data       []byte
}

// commit writes every collection in order. If a later write fails, the files
// already replaced in this call are restored to their previous contents.
func (s *Store) commit(ctx context.Context, writes ...pendingWrite) error {
	encoded := make([][]byte, len(writes))
	for i, w := range writes {
		data, err := json.MarshalIndent(w.value, "", "  ")
		if err != nil {
			return fmt.Errorf("encode %s: %w", w.collection, err)
		}
		encoded[i] = data
	}

	done := make([]snapshot, 0, len(writes))
	for i, w := range writes {
		if err := s.quarantineIfNeeded(ctx, w.collection); err != nil {
			s.rollback(ctx, done)
			return err
		}
		prev, existed, err := s.readRaw(w.collection)
		if err != nil {
			s.rollback(ctx, done)
			return err
		}
		if err := s.write(s.path(w.collection), encoded[i]); err != nil {
			s.rollback(ctx, done)
			return fmt.Errorf("write %s: %w", w.collection, err)
		}
		done = append(done, snapshot{collection: w.collection, existed: existed, data: prev})
	}
	return nil
}

func (s *Store) rollback(ctx context.Context, done []snapshot) {
	for i := len(done) - 1; i >= 0; i-- {
		snap := done[i]
		var err error
		if snap.existed {
			err = s.write(s.path(snap.collection), snap.data)
		} else {
			err = os.Remove(s.path(snap.collection))
		}
		if err != nil {
			s.logg.Error(s.logg.WithField(ctx, "collection", snap.collection), "store.rollback_failed", err)
		}
	}
}

func (s *Store) readRaw(collection string) ([]byte, bool, error) {
	data, err := os.ReadFile(s.path(collection))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("snapshot %s: %w", collection, err)
	}
	return data, true, nil
}

func (s *Store) quarantineIfNeeded(ctx context.Context, collection string) error {
	if !s.quarantine[collection] {
		return nil
	}
	src := s.path(collection)
	dst := fmt.Sprintf("%s.corrupt-%s", src, s.now().Format("20060102T150405.000000000"))
	if err := os.Rename(src, dst); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("quarantine %s: %w", collection, err)
	}
	delete(s.quarantine, collection)
	s.logg.Warn(s.logg.WithFields(ctx, map[string]any{"collection": collection, "moved_to": dst}), "store.quarantined")
	return nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func findCoupon(list []models.Coupon, id, owner string) int {
	for i, c := range list {
		if c.ID == id && (owner == "" || c.OwnerWallet == owner) {
			return i
		}
	}
	return -1
}

func findWithdrawal(list []models.Withdrawal, id string) int {
	for i, w := range list {
		if w.ID == id {
			return i
		}
	}
	return -1
}

func openFor(list []models.Withdrawal, couponID, exclude string) []models.Withdrawal {
	var open []models.Withdrawal
	for _, w := range list {
		if w.CouponID == couponID && w.ID != exclude && w.Status.IsOpen() {
			open = append(open, w)
		}
	}
	return open
}

func nextEventID(events []models.CouponEvent) uint64 {
	var highest uint64
	for _, e := range events {
		if e.ID > highest {
			highest = e.ID
		}
	}
	return highest + 1
}
