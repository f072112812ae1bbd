package composition

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carbontrace/internal/apperr"
	"carbontrace/models"
)

type fakeStore struct {
	mu        sync.Mutex
	batches   map[uint64]*models.ProductBatch
	templates map[uint]*models.ProductTemplate
	plants    map[uint]*models.Plant
	broken    map[uint64]error

	delay       time.Duration
	inflight    atomic.Int32
	maxInflight atomic.Int32
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		batches:   make(map[uint64]*models.ProductBatch),
		templates: make(map[uint]*models.ProductTemplate),
		plants:    make(map[uint]*models.Plant),
		broken:    make(map[uint64]error),
	}
}

func (s *fakeStore) track() func() {
	n := s.inflight.Add(1)
	for {
		max := s.maxInflight.Load()
		if n <= max || s.maxInflight.CompareAndSwap(max, n) {
			break
		}
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	return func() { s.inflight.Add(-1) }
}

func (s *fakeStore) BatchByTokenID(ctx context.Context, tokenID uint64) (*models.ProductBatch, error) {
	defer s.track()()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.broken[tokenID]; err != nil {
		return nil, err
	}
	batch, ok := s.batches[tokenID]
	if !ok {
		return nil, fmt.Errorf("token %d: %w", tokenID, apperr.ErrNotFound)
	}
	return batch, nil
}

func (s *fakeStore) Template(_ context.Context, id uint) (*models.ProductTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	template, ok := s.templates[id]
	if !ok {
		return nil, fmt.Errorf("template %d: %w", id, apperr.ErrTemplateNotFound)
	}
	return template, nil
}

func (s *fakeStore) Plant(_ context.Context, id uint) (*models.Plant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	plant, ok := s.plants[id]
	if !ok {
		return nil, fmt.Errorf("plant %d: %w", id, apperr.ErrNotFound)
	}
	return plant, nil
}

func (s *fakeStore) plant(id uint, name string, lat, lng float64) {
	p := &models.Plant{Name: name, Code: name}
	p.ID = id
	p.Location.Latitude = &lat
	p.Location.Longitude = &lng
	s.plants[id] = p
}

func (s *fakeStore) template(id uint, name string, raw bool) {
	t := &models.ProductTemplate{Name: name, IsRawMaterial: raw}
	t.ID = id
	s.templates[id] = t
}

type component struct {
	token    uint64
	quantity int64
}

func (s *fakeStore) batch(token uint64, templateID, plantID uint, quantity, carbonKg int64, components ...component) {
	id := token
	b := &models.ProductBatch{
		BatchNumber:       fmt.Sprintf("LOT-%d", token),
		TemplateID:        templateID,
		PlantID:           plantID,
		Quantity:          quantity,
		CarbonFootprintKg: carbonKg,
		TokenID:           &id,
	}
	b.ID = uint(token)
	for i, c := range components {
		b.Components = append(b.Components, models.BatchComponent{Position: i, TokenID: c.token, Quantity: c.quantity})
	}
	s.batches[token] = b
}

func TestResolveAttributesCarbonProportionally(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	store.plant(1, "Turin", 45.07, 7.68)
	store.template(1, "Steel", true)
	store.template(2, "Frame", false)
	store.batch(7, 1, 1, 100, 500)
	store.batch(8, 2, 1, 10, 20100, component{token: 7, quantity: 20})

	result, err := NewResolver(store, 4).Resolve(context.Background(), 8)
	require.NoError(t, err)

	root := result.Root
	assert.Equal(t, int64(10), root.Quantity)
	assert.Equal(t, int64(20100), root.CarbonShareKg)
	require.Len(t, root.Children, 1)
	assert.Equal(t, int64(20), root.Children[0].Quantity)
	assert.Equal(t, int64(100), root.Children[0].CarbonShareKg)
	assert.Equal(t, 1, root.Children[0].Depth)
	assert.False(t, result.Partial())
}

func TestResolveDetectsCycles(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	store.plant(1, "Turin", 45.07, 7.68)
	store.template(1, "Part", false)
	store.batch(1, 1, 1, 10, 100, component{token: 2, quantity: 1})
	store.batch(2, 1, 1, 10, 100, component{token: 3, quantity: 1})
	store.batch(3, 1, 1, 10, 100, component{token: 1, quantity: 1})

	_, err := NewResolver(store, 4).Resolve(context.Background(), 1)
	require.ErrorIs(t, err, apperr.ErrCycleDetected)

	var cycle *apperr.CycleError
	require.True(t, errors.As(err, &cycle))
	assert.Equal(t, uint64(1), cycle.TokenID)
	assert.Equal(t, []uint64{1, 2, 3}, cycle.Path)
}

func TestResolveDetectsSelfReference(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	store.plant(1, "Turin", 45.07, 7.68)
	store.template(1, "Part", false)
	store.batch(4, 1, 1, 10, 100, component{token: 4, quantity: 1})

	_, err := NewResolver(store, 1).Resolve(context.Background(), 4)
	assert.ErrorIs(t, err, apperr.ErrCycleDetected)
}

func TestResolveSharedComponentIsNotACycle(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	store.plant(1, "Turin", 45.07, 7.68)
	store.template(1, "Part", false)
	store.template(2, "Ore", true)
	store.batch(9, 2, 1, 100, 1000)
	store.batch(2, 1, 1, 10, 100, component{token: 9, quantity: 5})
	store.batch(3, 1, 1, 10, 100, component{token: 9, quantity: 5})
	store.batch(1, 1, 1, 10, 100, component{token: 2, quantity: 1}, component{token: 3, quantity: 1})

	result, err := NewResolver(store, 4).Resolve(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 4, result.Expected)
	assert.Equal(t, 4, result.Resolved)
}

func TestResolveReportsPartialResolution(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	store.plant(1, "Turin", 45.07, 7.68)
	store.template(1, "Part", true)
	store.template(2, "Assembly", false)
	store.batch(11, 1, 1, 10, 100)
	store.batch(13, 1, 1, 10, 100)
	store.batch(20, 2, 1, 5, 500,
		component{token: 11, quantity: 1},
		component{token: 12, quantity: 1},
		component{token: 13, quantity: 1},
	)

	result, err := NewResolver(store, 4).Resolve(context.Background(), 20)
	require.NoError(t, err)

	root := result.Root
	require.Len(t, root.Children, 2)
	assert.Equal(t, uint64(11), root.Children[0].TokenID)
	assert.Equal(t, uint64(13), root.Children[1].TokenID)
	assert.Equal(t, 3, root.Expected)
	assert.Equal(t, 2, root.Resolved)
	assert.True(t, root.Partial())
	assert.True(t, result.Partial())
	require.Len(t, root.Skipped, 1)
	assert.Equal(t, uint64(12), root.Skipped[0].TokenID)
	assert.Equal(t, "not_found", root.Skipped[0].Kind)
}

func TestResolveDistinguishesOrphans(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	store.plant(1, "Turin", 45.07, 7.68)
	store.template(1, "Part", true)
	store.template(2, "Assembly", false)
	store.batch(30, 99, 1, 10, 100)
	store.batch(31, 1, 99, 10, 100)
	store.batch(32, 2, 1, 5, 500, component{token: 30, quantity: 1}, component{token: 31, quantity: 1})

	resolver := NewResolver(store, 2)

	_, err := resolver.Resolve(context.Background(), 30)
	assert.ErrorIs(t, err, apperr.ErrDataIntegrity)
	assert.NotErrorIs(t, err, apperr.ErrNotFound)

	_, err = resolver.Resolve(context.Background(), 31)
	assert.ErrorIs(t, err, apperr.ErrDataIntegrity)

	_, err = resolver.Resolve(context.Background(), 404)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	result, err := resolver.Resolve(context.Background(), 32)
	require.NoError(t, err)
	assert.Empty(t, result.Root.Children)
	require.Len(t, result.Root.Skipped, 2)
	assert.Equal(t, "data_integrity", result.Root.Skipped[0].Kind)
	assert.Equal(t, "data_integrity", result.Root.Skipped[1].Kind)
}

func TestResolveFailsOnStorageErrors(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	store.plant(1, "Turin", 45.07, 7.68)
	store.template(1, "Part", false)
	store.batch(1, 1, 1, 10, 100, component{token: 2, quantity: 1})
	store.broken[2] = errors.New("connection reset")

	_, err := NewResolver(store, 2).Resolve(context.Background(), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestResolveBoundsConcurrentReads(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	store.delay = 5 * time.Millisecond
	store.plant(1, "Turin", 45.07, 7.68)
	store.template(1, "Part", true)
	store.template(2, "Assembly", false)

	var components []component
	for token := uint64(100); token < 112; token++ {
		store.batch(token, 1, 1, 10, 100)
		components = append(components, component{token: token, quantity: 1})
	}
	store.batch(1, 2, 1, 1, 100, components...)

	result, err := NewResolver(store, 3).Resolve(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, result.Root.Children, 12)
	assert.LessOrEqual(t, store.maxInflight.Load(), int32(3))
}

func TestResolveHonoursCancellation(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	store.plant(1, "Turin", 45.07, 7.68)
	store.template(1, "Part", true)
	store.batch(1, 1, 1, 10, 100)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewResolver(store, 2).Resolve(ctx, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResolveEndToEndCarbon(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	store.plant(1, "Turin", 45.07, 7.68)
	store.template(1, "Steel", true)
	store.template(2, "Frame", false)
	store.batch(7, 1, 1, 50, 1000)
	store.batch(8, 2, 1, 10, 20060, component{token: 7, quantity: 3})

	result, err := NewResolver(store, 2).Resolve(context.Background(), 8)
	require.NoError(t, err)
	require.Len(t, result.Root.Children, 1)
	assert.Equal(t, int64(60), result.Root.Children[0].CarbonShareKg)
	assert.Equal(t, int64(20060), result.Root.CarbonShareKg)
}
