package journal

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func readEntries(t *testing.T, path string) []Entry {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []Entry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e Entry
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		out = append(out, e)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestRecordWritesEntries(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	w := New(dir, Options{Now: func() time.Time { return now }})

	w.Record("create", "AAPL", "k1", "b1", nil)
	w.Record("delete", "AAPL", "", "b2", errors.New("backend down"))
	require.NoError(t, w.Close())

	entries := readEntries(t, w.Path(now))
	require.Len(t, entries, 2)
	assert.Equal(t, Entry{At: now, Op: "create", Symbol: "AAPL", LocalKey: "k1", BackendID: "b1", Result: "ok"}, entries[0])
	assert.Equal(t, "error", entries[1].Result)
	assert.Equal(t, "backend down", entries[1].Error)
}

func TestWriterRotatesByDate(t *testing.T) {
	dir := t.TempDir()
	day1 := time.Date(2026, 3, 4, 23, 59, 0, 0, time.UTC)
	day2 := day1.Add(2 * time.Minute)
	w := New(dir, Options{})

	require.NoError(t, w.Write(Entry{At: day1, Op: "create", Symbol: "AAPL", Result: "ok"}))
	require.NoError(t, w.Write(Entry{At: day2, Op: "update", Symbol: "AAPL", Result: "ok"}))
	require.NoError(t, w.Close())

	assert.Len(t, readEntries(t, w.Path(day1)), 1)
	assert.Len(t, readEntries(t, w.Path(day2)), 1)
}

func TestWriteAfterClose(t *testing.T) {
	w := New(t.TempDir(), Options{})
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	assert.ErrorIs(t, w.Write(Entry{Op: "create"}), ErrClosed)
}
