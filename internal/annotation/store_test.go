package annotation

import (
	"sync"
	"testing"

	"github.com/dgnsrekt/chartsync/internal/apperr"
	"github.com/dgnsrekt/chartsync/internal/geometry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var priceLine = Endpoints{
	Start: Point{Time: 1000, Value: 100},
	End:   Point{Time: 2000, Value: 110},
}

func TestCreateThenConfirm(t *testing.T) {
	s := NewStore()
	key, err := s.Create(KindLine, priceLine, geometry.PriceSubplot)
	require.NoError(t, err)

	a, ok := s.Get(key)
	require.True(t, ok)
	assert.Empty(t, a.BackendID, "new annotation must be pending")
	assert.False(t, a.Persisted())

	require.NoError(t, s.ConfirmSaved(key, "abc123"))
	a, _ = s.Get(key)
	assert.Equal(t, "abc123", a.BackendID)

	byID, ok := s.GetByBackendID("abc123")
	require.True(t, ok)
	assert.Equal(t, key, byID.LocalKey)
	assert.Equal(t, 1, s.Len())
}

func TestCreateRejectsUnknownKind(t *testing.T) {
	s := NewStore()
	_, err := s.Create(Kind("circle"), priceLine, geometry.PriceSubplot)
	assert.True(t, apperr.Is(err, apperr.CodeValidation))
}

func TestConcurrentCreatesGetDistinctKeys(t *testing.T) {
	s := NewStore()
	const n = 64
	keys := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key, err := s.Create(KindRect, priceLine, geometry.PriceSubplot)
			assert.NoError(t, err)
			keys <- key
		}()
	}
	wg.Wait()
	close(keys)

	seen := make(map[string]bool)
	for k := range keys {
		assert.False(t, seen[k], "duplicate key %s", k)
		seen[k] = true
	}
	assert.Len(t, seen, n)
}

func TestConfirmSavedAfterDeleteIsNoop(t *testing.T) {
	s := NewStore()
	key, _ := s.Create(KindLine, priceLine, geometry.PriceSubplot)
	require.True(t, s.DiscardUnsaved(key))

	err := s.ConfirmSaved(key, "late")
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))
	assert.Equal(t, 0, s.Len())
}

func TestConfirmSavedRejectsDuplicateBackendID(t *testing.T) {
	s := NewStore()
	k1, _ := s.Create(KindLine, priceLine, geometry.PriceSubplot)
	k2, _ := s.Create(KindLine, priceLine, geometry.PriceSubplot)
	require.NoError(t, s.ConfirmSaved(k1, "same"))
	assert.Error(t, s.ConfirmSaved(k2, "same"))

	a, _ := s.Get(k2)
	assert.Empty(t, a.BackendID)
}

func TestSystemAnnotationsNeverPersist(t *testing.T) {
	s := NewStore()
	key := s.SetSystem("crosshair", KindLine, priceLine, geometry.PriceSubplot)
	assert.Error(t, s.ConfirmSaved(key, "x1"))
	assert.False(t, s.DiscardUnsaved(key))
	assert.Error(t, s.SetEndpoints(key, priceLine))

	assert.Empty(t, s.ListForSubplot(geometry.PriceSubplot, false))
	assert.Len(t, s.ListForSubplot(geometry.PriceSubplot, true), 1)
	assert.Equal(t, 0, s.Len())

	moved := Endpoints{Start: Point{Time: 1, Value: 1}, End: Point{Time: 2, Value: 2}}
	assert.Equal(t, key, s.SetSystem("crosshair", KindLine, moved, geometry.PriceSubplot))
	a, _ := s.Get(key)
	assert.Equal(t, moved, a.Endpoints)
	assert.True(t, s.RemoveSystem("crosshair"))
}

func TestRemoveIsIdempotent(t *testing.T) {
	s := NewStore()
	key, _ := s.Create(KindLine, priceLine, geometry.PriceSubplot)
	require.NoError(t, s.ConfirmSaved(key, "abc"))
	other, _ := s.Create(KindRect, priceLine, geometry.PriceSubplot)
	require.NoError(t, s.ConfirmSaved(other, "def"))

	_, ok := s.Remove("abc")
	assert.True(t, ok)
	once := s.All(true)

	_, ok = s.Remove("abc")
	assert.False(t, ok)
	assert.Equal(t, once, s.All(true))
}

func TestUpdateRequiresConfirmed(t *testing.T) {
	s := NewStore()
	key, _ := s.Create(KindLine, priceLine, geometry.PriceSubplot)
	moved := Endpoints{Start: Point{Time: 1100, Value: 101}, End: Point{Time: 2100, Value: 111}}

	assert.True(t, apperr.Is(s.Update("missing", moved), apperr.CodeNotFound))

	require.NoError(t, s.ConfirmSaved(key, "abc"))
	require.NoError(t, s.Update("abc", moved))
	a, _ := s.Get(key)
	assert.Equal(t, moved, a.Endpoints)
}

func TestRestoreAfterRemove(t *testing.T) {
	s := NewStore()
	key, _ := s.Create(KindLine, priceLine, geometry.PriceSubplot)
	require.NoError(t, s.ConfirmSaved(key, "abc"))
	before, _ := s.Get(key)

	_, ok := s.Remove("abc")
	require.True(t, ok)
	require.NoError(t, s.Restore(before))
	require.NoError(t, s.Restore(before))

	after, ok := s.GetByBackendID("abc")
	require.True(t, ok)
	assert.Equal(t, before, after)
	assert.Equal(t, 1, s.Len())
}

func TestListForSubplotFiltersPanes(t *testing.T) {
	s := NewStore()
	rsi := geometry.SubplotRef{XAxis: "x", YAxis: "y2"}
	_, _ = s.Create(KindLine, priceLine, geometry.PriceSubplot)
	_, _ = s.Create(KindLine, priceLine, rsi)
	_, _ = s.Create(KindRect, priceLine, geometry.SubplotRef{})

	assert.Len(t, s.ListForSubplot(geometry.PriceSubplot, false), 2)
	assert.Len(t, s.ListForSubplot(rsi, false), 1)
}

func TestReplaceSubplotKeepsPendingAndLocalKeys(t *testing.T) {
	s := NewStore()
	kept, _ := s.Create(KindLine, priceLine, geometry.PriceSubplot)
	require.NoError(t, s.ConfirmSaved(kept, "keep"))
	gone, _ := s.Create(KindLine, priceLine, geometry.PriceSubplot)
	require.NoError(t, s.ConfirmSaved(gone, "gone"))
	pending, _ := s.Create(KindRect, priceLine, geometry.PriceSubplot)

	server := Endpoints{Start: Point{Time: 5, Value: 5}, End: Point{Time: 6, Value: 6}}
	s.ReplaceSubplot(geometry.PriceSubplot, []Annotation{
		{BackendID: "keep", Kind: KindLine, Endpoints: server},
		{BackendID: "new", Kind: KindRect, Endpoints: server},
	})

	a, ok := s.Get(kept)
	require.True(t, ok)
	assert.Equal(t, server, a.Endpoints)
	_, ok = s.Get(gone)
	assert.False(t, ok)
	_, ok = s.Get(pending)
	assert.True(t, ok)
	_, ok = s.GetByBackendID("new")
	assert.True(t, ok)
	assert.Equal(t, 3, s.Len())
}

func TestLoadDropsDuplicates(t *testing.T) {
	s := NewStore()
	s.SetSystem("crosshair", KindLine, priceLine, geometry.PriceSubplot)
	s.Load([]Annotation{
		{BackendID: "a", Kind: KindLine, Endpoints: priceLine},
		{BackendID: "a", Kind: KindLine, Endpoints: priceLine},
		{BackendID: "", Kind: KindLine},
		{BackendID: "b", Kind: Kind("bogus")},
	})
	assert.Equal(t, 1, s.Len())
	assert.Len(t, s.All(true), 2)
}
