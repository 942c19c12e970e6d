package resolver

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dupe-finder/internal/model"
)

// memStore emulates the unique name constraint of brands and ingredients.
type memStore struct {
	mu          sync.Mutex
	brands      map[string]*model.Brand
	ingredients map[string]*model.Ingredient
	inserts     int
	findErr     error
}

func newMemStore() *memStore {
	return &memStore{brands: map[string]*model.Brand{}, ingredients: map[string]*model.Ingredient{}}
}

func (s *memStore) FindBrandID(_ context.Context, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return "", s.findErr
	}
	if b, ok := s.brands[name]; ok {
		return b.ID, nil
	}
	return "", nil
}

func (s *memStore) InsertBrand(_ context.Context, b *model.Brand) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.brands[b.Name]; ok {
		return existing.ID, false, nil
	}
	b.ID = uuid.NewString()
	s.brands[b.Name] = b
	s.inserts++
	return b.ID, true, nil
}

func (s *memStore) FindIngredientID(_ context.Context, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if in, ok := s.ingredients[name]; ok {
		return in.ID, nil
	}
	return "", nil
}

func (s *memStore) InsertIngredient(_ context.Context, in *model.Ingredient) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.ingredients[in.Name]; ok {
		return existing.ID, false, nil
	}
	in.ID = uuid.NewString()
	s.ingredients[in.Name] = in
	s.inserts++
	return in.ID, true, nil
}

type mockEnricher struct {
	mock.Mock
}

func (m *mockEnricher) EnrichBrand(ctx context.Context, name string) (*model.BrandMetadata, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.BrandMetadata), args.Error(1)
}

func (m *mockEnricher) EnrichIngredient(ctx context.Context, name string) (*model.IngredientMetadata, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.IngredientMetadata), args.Error(1)
}

func TestBrands_ResolveIdempotent(t *testing.T) {
	store := newMemStore()
	enr := &mockEnricher{}
	vegan := true
	enr.On("EnrichBrand", mock.Anything, "Tarte").
		Return(&model.BrandMetadata{Description: "Clay-based cosmetics", Vegan: &vegan, ParentCompany: "Kosé"}, nil).Once()

	r := NewBrands(store, enr)
	id1, err := r.Resolve(context.Background(), "  Tarte ")
	require.NoError(t, err)
	id2, err := r.Resolve(context.Background(), "Tarte")
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
	assert.Equal(t, 1, store.inserts)
	b := store.brands["Tarte"]
	assert.Equal(t, "tarte", b.Slug)
	assert.Equal(t, "Kosé", b.ParentCompany)
	enr.AssertExpectations(t)
}

func TestBrands_ResolveConcurrent(t *testing.T) {
	store := newMemStore()
	enr := &mockEnricher{}
	enr.On("EnrichBrand", mock.Anything, "Maybelline").Return(&model.BrandMetadata{}, nil)

	r := NewBrands(store, enr)
	const n = 16
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := r.Resolve(context.Background(), "Maybelline")
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Equal(t, 1, store.inserts)
}

// blockingEnricher holds EnrichBrand until release closes or its ctx ends.
type blockingEnricher struct {
	started chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (b *blockingEnricher) EnrichBrand(ctx context.Context, _ string) (*model.BrandMetadata, error) {
	if b.calls.Add(1) == 1 {
		close(b.started)
	}
	select {
	case <-b.release:
		return &model.BrandMetadata{Description: "Drugstore color cosmetics"}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *blockingEnricher) EnrichIngredient(context.Context, string) (*model.IngredientMetadata, error) {
	return &model.IngredientMetadata{}, nil
}

func TestBrands_CancelledCallerDoesNotFailOthers(t *testing.T) {
	store := newMemStore()
	enr := &blockingEnricher{started: make(chan struct{}), release: make(chan struct{})}
	r := NewBrands(store, enr)

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := r.Resolve(ctxA, "Maybelline")
		errA <- err
	}()
	<-enr.started

	type result struct {
		id  string
		err error
	}
	resB := make(chan result, 1)
	go func() {
		id, err := r.Resolve(context.Background(), "Maybelline")
		resB <- result{id, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelA()
	assert.ErrorIs(t, <-errA, context.Canceled)

	close(enr.release)
	b := <-resB
	require.NoError(t, b.err)
	assert.NotEmpty(t, b.id)
	assert.Equal(t, int32(1), enr.calls.Load())
	assert.Equal(t, 1, store.inserts)
	assert.Equal(t, "Drugstore color cosmetics", store.brands["Maybelline"].Description)
}

func TestBrands_EnrichmentFailureInsertsPlaceholder(t *testing.T) {
	store := newMemStore()
	enr := &mockEnricher{}
	enr.On("EnrichBrand", mock.Anything, "e.l.f.").Return(nil, errors.New("llm down"))

	id, err := NewBrands(store, enr).Resolve(context.Background(), "e.l.f.")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Empty(t, store.brands["e.l.f."].Description)
}

func TestBrands_Errors(t *testing.T) {
	r := NewBrands(newMemStore(), nil)
	_, err := r.Resolve(context.Background(), "   ")
	assert.Equal(t, model.KindValidation, model.KindOf(err))

	store := newMemStore()
	store.findErr = errors.New("conn refused")
	_, err = NewBrands(store, nil).Resolve(context.Background(), "Tarte")
	assert.Equal(t, model.KindPersistence, model.KindOf(err))
}

func TestIngredients_ResolveIdempotent(t *testing.T) {
	store := newMemStore()
	enr := &mockEnricher{}
	rating := 0
	enr.On("EnrichIngredient", mock.Anything, "Niacinamide").
		Return(&model.IngredientMetadata{Benefits: []string{"brightening"}, ComedogenicRating: &rating}, nil).Once()

	r := NewIngredients(store, enr)
	id1, err := r.Resolve(context.Background(), "Niacinamide")
	require.NoError(t, err)
	id2, err := r.Resolve(context.Background(), " Niacinamide")
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
	assert.Equal(t, 1, store.inserts)
	assert.Equal(t, []string{"brightening"}, store.ingredients["Niacinamide"].Benefits)
	enr.AssertExpectations(t)
}

func TestIngredients_NilEnricher(t *testing.T) {
	store := newMemStore()
	id, err := NewIngredients(store, nil).Resolve(context.Background(), "Aqua  (Water)")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Contains(t, store.ingredients, "Aqua (Water)")
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "L'Oréal Paris", Normalize("  L'Oréal \t Paris "))
	assert.Empty(t, Normalize(" \n "))
}
