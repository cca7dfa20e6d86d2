package distribution

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cesta-solidaria/cesta/internal/families"
	"github.com/cesta-solidaria/cesta/internal/ready"
)

type memoryState struct {
	families   map[uuid.UUID]families.Family
	deliveries map[uuid.UUID]Delivery
	ready      int64
}

func (s memoryState) clone() memoryState {
	out := memoryState{
		families:   make(map[uuid.UUID]families.Family, len(s.families)),
		deliveries: make(map[uuid.UUID]Delivery, len(s.deliveries)),
		ready:      s.ready,
	}
	for k, v := range s.families {
		out.families[k] = v
	}
	for k, v := range s.deliveries {
		out.deliveries[k] = v
	}
	return out
}

// memoryRepo serialises transactions and commits a working copy only when fn succeeds.
type memoryRepo struct {
	mu    sync.Mutex
	state memoryState
}

type memoryTx struct {
	state *memoryState
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{state: memoryState{}.clone()}
}

func (r *memoryRepo) addFamily(f families.Family) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.families[f.ID] = f
}

func (r *memoryRepo) setReady(n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.ready = n
}

func (r *memoryRepo) readyQty() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.ready
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	working := r.state.clone()
	if err := fn(ctx, &memoryTx{state: &working}); err != nil {
		return err
	}
	r.state = working
	return nil
}

func (r *memoryRepo) GetFamily(_ context.Context, id uuid.UUID) (families.Family, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.family(id)
}

func (r *memoryRepo) ReadyCount(context.Context) (int64, error) {
	return r.readyQty(), nil
}

func (r *memoryRepo) LatestActiveSince(_ context.Context, familyID uuid.UUID, since time.Time) (*Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.latestActiveSince(familyID, since), nil
}

func (r *memoryRepo) ActiveSince(_ context.Context, since time.Time) ([]Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Delivery
	for _, d := range r.state.sorted() {
		if d.IsActive() && !d.DeliveredAt.Before(since) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (r *memoryRepo) History(_ context.Context, familyID uuid.UUID, limit int) ([]Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Delivery
	for _, d := range r.state.sorted() {
		if d.FamilyID == familyID && len(out) < limit {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *memoryState) family(id uuid.UUID) (families.Family, error) {
	f, ok := s.families[id]
	if !ok {
		return families.Family{}, fmt.Errorf("%w: %s", ErrFamilyNotFound, id)
	}
	return f, nil
}

func (s *memoryState) sorted() []Delivery {
	out := make([]Delivery, 0, len(s.deliveries))
	for _, d := range s.deliveries {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeliveredAt.After(out[j].DeliveredAt) })
	return out
}

func (s *memoryState) latestActiveSince(familyID uuid.UUID, since time.Time) *Delivery {
	for _, d := range s.sorted() {
		if d.FamilyID == familyID && d.IsActive() && !d.DeliveredAt.Before(since) {
			return &d
		}
	}
	return nil
}

func (tx *memoryTx) LockFamily(_ context.Context, id uuid.UUID) (families.Family, error) {
	return tx.state.family(id)
}

func (tx *memoryTx) LatestActiveSince(_ context.Context, familyID uuid.UUID, since time.Time) (*Delivery, error) {
	return tx.state.latestActiveSince(familyID, since), nil
}

func (tx *memoryTx) InsertDelivery(_ context.Context, d Delivery) error {
	for _, existing := range tx.state.deliveries {
		if existing.FamilyID == d.FamilyID && existing.IsActive() && existing.Month.Equal(d.Month) {
			return ErrAlreadyDeliveredThisMonth
		}
	}
	tx.state.deliveries[d.ID] = d
	return nil
}

func (tx *memoryTx) LockDelivery(_ context.Context, id uuid.UUID) (Delivery, error) {
	d, ok := tx.state.deliveries[id]
	if !ok {
		return Delivery{}, fmt.Errorf("%w: %s", ErrDeliveryNotFound, id)
	}
	return d, nil
}

func (tx *memoryTx) MarkReversed(_ context.Context, d Delivery) error {
	existing, ok := tx.state.deliveries[d.ID]
	if !ok || !existing.IsActive() {
		return ErrDeliveryAlreadyReversed
	}
	tx.state.deliveries[d.ID] = d
	return nil
}

func (tx *memoryTx) LockReady(context.Context) (ready.Counter, error) {
	return ready.Counter{Qty: tx.state.ready}, nil
}

func (tx *memoryTx) SaveReady(_ context.Context, counter ready.Counter) (ready.Counter, error) {
	if counter.Qty < 0 {
		return counter, ErrNoBasketsReady
	}
	tx.state.ready = counter.Qty
	return counter, nil
}
