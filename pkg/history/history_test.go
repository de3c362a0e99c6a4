package history

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func tools(recs []Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Tool
	}
	return out
}

func TestRecentIsNewestFirst(t *testing.T) {
	l := New(&Options{Capacity: intPtr(0)})
	for _, name := range []string{"a", "b", "c", "d"} {
		l.Append(Record{Server: "s", Tool: name, Success: true})
	}
	assert.Equal(t, []string{"d", "c", "b", "a"}, tools(l.Recent(0)))
	assert.Equal(t, []string{"d", "c"}, tools(l.Recent(2)))
	assert.Equal(t, []string{"d", "c", "b", "a"}, tools(l.Recent(10)))
	assert.Equal(t, 4, l.Len())
}

func TestCapacityEvictsOldest(t *testing.T) {
	l := New(&Options{Capacity: intPtr(3)})
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		l.Append(Record{Tool: name})
	}
	assert.Equal(t, 3, l.Len())
	assert.Equal(t, []string{"e", "d", "c"}, tools(l.Recent(0)))

	assert.Equal(t, DefaultCapacity, New(nil).Capacity())
}

func TestAppendCopiesParameters(t *testing.T) {
	l := New(nil)
	params := map[string]any{"k": "v"}
	l.Append(Record{Tool: "t", Parameters: params})
	params["k"] = "changed"

	got := l.Recent(1)[0]
	assert.Equal(t, "v", got.Parameters["k"])
	assert.False(t, got.Timestamp.IsZero())

	got.Parameters["k"] = "mutated"
	assert.Equal(t, "v", l.Recent(1)[0].Parameters["k"])
}

func TestRecentServers(t *testing.T) {
	l := New(nil)
	l.Append(Record{Server: "alpha", Success: true})
	l.Append(Record{Server: "beta", Success: true})
	l.Append(Record{Server: "gamma", Success: false})
	l.Append(Record{Server: "alpha", Success: true})
	assert.Equal(t, []string{"alpha", "beta"}, l.RecentServers())

	l.Clear()
	assert.Empty(t, l.RecentServers())
}

type failingSink struct{ calls int }

func (f *failingSink) Write(Record) error {
	f.calls++
	return errors.New("disk full")
}

func TestSinkFailureKeepsRecord(t *testing.T) {
	sink := &failingSink{}
	l := New(&Options{Sink: sink})
	l.Append(Record{Tool: "t"})
	assert.Equal(t, 1, sink.calls)
	assert.Equal(t, 1, l.Len())
}

func TestSQLiteSinkRoundTrip(t *testing.T) {
	sink, err := OpenSQLite(filepath.Join(t.TempDir(), "nested", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sink.Close() })

	l := New(&Options{Sink: sink, Capacity: intPtr(1)})
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	l.Append(Record{Timestamp: ts, ReqID: "r1", Server: "s", Tool: "hello", Parameters: map[string]any{"name": "x"}, Timeout: 2 * time.Second, Success: true})
	l.Append(Record{Timestamp: ts.Add(time.Second), ReqID: "r2", Server: "s", Tool: "fail", Error: "boom"})

	// the sink keeps what the bounded log evicted
	assert.Equal(t, 1, l.Len())
	recs, err := sink.Recent(0)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, "r2", recs[0].ReqID)
	assert.False(t, recs[0].Success)
	assert.Equal(t, "boom", recs[0].Error)
	assert.Nil(t, recs[0].Parameters)

	assert.Equal(t, "r1", recs[1].ReqID)
	assert.True(t, recs[1].Success)
	assert.Equal(t, map[string]any{"name": "x"}, recs[1].Parameters)
	assert.Equal(t, 2*time.Second, recs[1].Timeout)
	assert.True(t, ts.Equal(recs[1].Timestamp))

	limited, err := sink.Recent(1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestOpenSQLiteReportsOpenFailure(t *testing.T) {
	orig := openDB
	t.Cleanup(func() { openDB = orig })
	openDB = func(string, string) (*sql.DB, error) { return nil, errors.New("no driver") }

	_, err := OpenSQLite(filepath.Join(t.TempDir(), "h.db"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open database")
}
