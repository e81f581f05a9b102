package core_test

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/dealroom/pkg/adapters/memory"
	"github.com/aretw0/dealroom/pkg/core"
)

// plainRepository implements only core.Repository, without CAS or watch support.
type plainRepository struct {
	docs map[string]core.Document
}

func newPlainRepository() *plainRepository {
	return &plainRepository{docs: make(map[string]core.Document)}
}

func (m *plainRepository) Save(ctx context.Context, doc core.Document) (core.Document, error) {
	doc.Version = m.docs[doc.ID].Version + 1
	m.docs[doc.ID] = doc
	return doc, nil
}

func (m *plainRepository) Get(ctx context.Context, id string) (core.Document, error) {
	doc, ok := m.docs[id]
	if !ok {
		return core.Document{}, core.ErrNotFound
	}
	return doc, nil
}

func (m *plainRepository) List(ctx context.Context, prefix string) ([]core.Document, error) {
	var list []core.Document
	for id, d := range m.docs {
		if strings.HasPrefix(id, prefix) {
			list = append(list, d)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, nil
}

func (m *plainRepository) Delete(ctx context.Context, id string) error {
	delete(m.docs, id)
	return nil
}

func (m *plainRepository) Initialize(ctx context.Context) error { return nil }

func TestService_CRUD(t *testing.T) {
	svc := core.NewService(memory.NewRepository())
	ctx := context.Background()

	saved, err := svc.SaveDocument(ctx, "profiles/investor/i1", "", core.Metadata{"name": "Asha"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), saved.Version)

	got, err := svc.GetDocument(ctx, "profiles/investor/i1")
	require.NoError(t, err)
	assert.Equal(t, "Asha", got.Metadata["name"])

	require.NoError(t, svc.DeleteDocument(ctx, "profiles/investor/i1"))
	_, err = svc.GetDocument(ctx, "profiles/investor/i1")
	assert.True(t, errors.Is(err, core.ErrNotFound))
}

func TestService_RejectsInvalidIDs(t *testing.T) {
	svc := core.NewService(memory.NewRepository())
	ctx := context.Background()

	for _, id := range []string{"", "a/*", "../etc/passwd", "a/[b]"} {
		_, err := svc.SaveDocument(ctx, id, "", nil)
		assert.Error(t, err, "id %q", id)
	}
}

func TestService_SaveDocumentIf(t *testing.T) {
	svc := core.NewService(memory.NewRepository())
	ctx := context.Background()

	_, err := svc.SaveDocumentIf(ctx, "c/proposal", "", nil, 0)
	require.NoError(t, err)
	_, err = svc.SaveDocumentIf(ctx, "c/proposal", "", nil, 0)
	assert.True(t, errors.Is(err, core.ErrVersionConflict))
}

func TestService_SaveDocumentIf_Unsupported(t *testing.T) {
	svc := core.NewService(newPlainRepository())
	_, err := svc.SaveDocumentIf(context.Background(), "x", "", nil, 0)
	assert.True(t, errors.Is(err, core.ErrUnsupported))
}

func TestService_MergeDocument(t *testing.T) {
	svc := core.NewService(memory.NewRepository())
	ctx := context.Background()

	_, err := svc.SaveDocument(ctx, "profiles/business/b1", "pitch", core.Metadata{"name": "Acme", "industry": "Fintech"})
	require.NoError(t, err)

	merged, err := svc.MergeDocument(ctx, "profiles/business/b1", "", core.Metadata{"industry": "Healthtech"})
	require.NoError(t, err)
	assert.Equal(t, "Acme", merged.Metadata["name"])
	assert.Equal(t, "Healthtech", merged.Metadata["industry"])
	assert.Equal(t, "pitch", merged.Content)
	assert.Equal(t, int64(2), merged.Version)

	created, err := svc.MergeDocument(ctx, "profiles/business/b2", "", core.Metadata{"name": "New"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), created.Version)
}

func TestService_ListDocuments_OrderedByCreation(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	repo := memory.NewRepository(memory.WithClock(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}))
	svc := core.NewService(repo)
	ctx := context.Background()

	for _, id := range []string{"m/zz", "m/aa", "m/mm"} {
		_, err := svc.SaveDocument(ctx, id, id, nil)
		require.NoError(t, err)
	}

	docs, err := svc.ListDocuments(ctx, "m/")
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, []string{"m/zz", "m/aa", "m/mm"}, []string{docs[0].ID, docs[1].ID, docs[2].ID})
}

func TestService_Watch_Unsupported(t *testing.T) {
	svc := core.NewService(newPlainRepository())
	_, err := svc.Watch(context.Background(), "**")
	assert.Error(t, err)
}

func TestService_SubscribeDocument(t *testing.T) {
	svc := core.NewService(memory.NewRepository())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	snapshots, err := svc.SubscribeDocument(ctx, "c1/proposal")
	require.NoError(t, err)

	first := <-snapshots
	assert.Equal(t, "c1/proposal", first.ID)
	assert.False(t, first.Exists(), "missing document is delivered as an empty snapshot")

	_, err = svc.SaveDocument(ctx, "c1/proposal", "", core.Metadata{"status": "draft"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		select {
		case doc := <-snapshots:
			return doc.Version == 1 && doc.Metadata["status"] == "draft"
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestService_SubscribeDocument_CoalescesToLatest(t *testing.T) {
	svc := core.NewService(memory.NewRepository())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	snapshots, err := svc.SubscribeDocument(ctx, "c1/proposal")
	require.NoError(t, err)
	<-snapshots

	for i := 0; i < 20; i++ {
		_, err := svc.SaveDocument(ctx, "c1/proposal", "", nil)
		require.NoError(t, err)
	}

	// Whatever intermediate snapshots were skipped, the last one observed is the latest.
	var last core.Document
	require.Eventually(t, func() bool {
		for {
			select {
			case doc := <-snapshots:
				last = doc
			default:
				return last.Version == 20
			}
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestService_SubscribeCollection(t *testing.T) {
	svc := core.NewService(memory.NewRepository())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lists, err := svc.SubscribeCollection(ctx, "conversations/c1/messages")
	require.NoError(t, err)
	assert.Empty(t, <-lists)

	_, err = svc.SaveDocument(ctx, "conversations/c1/messages/01", "hello", nil)
	require.NoError(t, err)
	_, err = svc.SaveDocument(ctx, "conversations/c2/messages/01", "elsewhere", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		select {
		case docs := <-lists:
			return len(docs) == 1 && docs[0].Content == "hello"
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestService_StateTracksSubscriptions(t *testing.T) {
	svc := core.NewService(memory.NewRepository())
	ctx, cancel := context.WithCancel(context.Background())

	_, err := svc.SubscribeDocument(ctx, "a")
	require.NoError(t, err)
	state := svc.State().(core.ServiceState)
	assert.Equal(t, 1, state.ActiveSubscriptions)

	cancel()
	require.Eventually(t, func() bool {
		return svc.State().(core.ServiceState).ActiveSubscriptions == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestService_ConcurrentMergeLosesNoKeys(t *testing.T) {
	svc := core.NewService(memory.NewRepository())
	ctx := context.Background()
	_, err := svc.SaveDocument(ctx, "doc", "", nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	keys := []string{"a", "b"}
	for _, k := range keys {
		wg.Add(1)
		go func(k string) {
			defer wg.Done()
			_, _ = svc.MergeDocument(ctx, "doc", "", core.Metadata{k: true})
		}(k)
	}
	wg.Wait()

	doc, err := svc.GetDocument(ctx, "doc")
	require.NoError(t, err)
	for _, k := range keys {
		assert.Equal(t, true, doc.Metadata[k], "key %s", k)
	}
}
