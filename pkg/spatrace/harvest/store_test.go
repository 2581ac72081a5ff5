package harvest_test

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/spatrace/pkg/spatrace/harvest"
)

// storeFactories runs the contract tests against every implementation.
func storeFactories(t *testing.T) map[string]func() harvest.Store {
	return map[string]func() harvest.Store{
		"memory": func() harvest.Store { return harvest.NewMemoryStore() },
		"sqlite": func() harvest.Store {
			s, err := harvest.NewSQLiteStore(":memory:")
			require.NoError(t, err)
			return s
		},
	}
}

func TestStore_Contract(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("append and load", func(t *testing.T) {
				s := factory()
				defer s.Close()

				data := []byte(`{"a":1}`)
				require.NoError(t, s.Append("s/1", data))
				data[0] = 'X'

				got, err := s.Load("s/1")
				require.NoError(t, err)
				assert.Equal(t, []byte(`{"a":1}`), got)

				_, err = s.Load("missing")
				assert.ErrorIs(t, err, harvest.ErrNotFound)
			})

			t.Run("pending is fifo and limited", func(t *testing.T) {
				s := factory()
				defer s.Close()

				for i := 1; i <= 5; i++ {
					require.NoError(t, s.Append(fmt.Sprintf("s/%d", i), []byte{byte(i)}))
				}

				recs, err := s.Pending(3)
				require.NoError(t, err)
				require.Len(t, recs, 3)
				assert.Equal(t, []string{"s/1", "s/2", "s/3"}, ids(recs))
				assert.Less(t, recs[0].Sequence, recs[1].Sequence)
				assert.False(t, recs[0].Timestamp.IsZero())

				all, err := s.Pending(0)
				require.NoError(t, err)
				assert.Len(t, all, 5)
			})

			t.Run("re-append moves to back", func(t *testing.T) {
				s := factory()
				defer s.Close()

				require.NoError(t, s.Append("a", []byte("1")))
				require.NoError(t, s.Append("b", []byte("2")))
				require.NoError(t, s.Append("a", []byte("3")))

				recs, err := s.Pending(0)
				require.NoError(t, err)
				assert.Equal(t, []string{"b", "a"}, ids(recs))
				assert.Equal(t, []byte("3"), recs[1].Data)
			})

			t.Run("ack removes", func(t *testing.T) {
				s := factory()
				defer s.Close()

				require.NoError(t, s.Append("a", []byte("1")))
				require.NoError(t, s.Append("b", []byte("2")))
				require.NoError(t, s.Ack("a", "unknown"))
				require.NoError(t, s.Ack())

				n, err := s.Len()
				require.NoError(t, err)
				assert.Equal(t, 1, n)
			})

			t.Run("closed store", func(t *testing.T) {
				s := factory()
				require.NoError(t, s.Close())
				require.NoError(t, s.Close())

				assert.ErrorIs(t, s.Append("a", nil), harvest.ErrStoreClosed)
				_, err := s.Load("a")
				assert.ErrorIs(t, err, harvest.ErrStoreClosed)
				_, err = s.Pending(1)
				assert.ErrorIs(t, err, harvest.ErrStoreClosed)
				assert.ErrorIs(t, s.Ack("a"), harvest.ErrStoreClosed)
				_, err = s.Len()
				assert.ErrorIs(t, err, harvest.ErrStoreClosed)
			})

			t.Run("concurrent appends", func(t *testing.T) {
				s := factory()
				defer s.Close()

				var wg sync.WaitGroup
				for g := range 10 {
					wg.Add(1)
					go func() {
						defer wg.Done()
						for i := range 10 {
							assert.NoError(t, s.Append(fmt.Sprintf("%d/%d", g, i), []byte("x")))
						}
					}()
				}
				wg.Wait()

				n, err := s.Len()
				require.NoError(t, err)
				assert.Equal(t, 100, n)
			})
		})
	}
}

func TestSQLiteStore_Persistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")

	first, err := harvest.NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, first.Append("s/1", []byte("persistent")))
	require.NoError(t, first.Close())

	second, err := harvest.NewSQLiteStore(path)
	require.NoError(t, err)
	defer second.Close()

	data, err := second.Load("s/1")
	require.NoError(t, err)
	assert.Equal(t, []byte("persistent"), data)
}

func TestSQLiteStore_InvalidPath(t *testing.T) {
	_, err := harvest.NewSQLiteStore("/nonexistent/path/queue.db")
	assert.Error(t, err)
}

func TestOpenStore(t *testing.T) {
	s, err := harvest.OpenStore(":memory:")
	require.NoError(t, err)
	_, isMemory := s.(*harvest.MemoryStore)
	assert.True(t, isMemory)
	require.NoError(t, s.Close())

	s, err = harvest.OpenStore(filepath.Join(t.TempDir(), "q.db"))
	require.NoError(t, err)
	_, isSQLite := s.(*harvest.SQLiteStore)
	assert.True(t, isSQLite)
	require.NoError(t, s.Close())
}

func ids(recs []harvest.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}
