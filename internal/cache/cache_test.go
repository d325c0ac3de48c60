package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStorePutGet(t *testing.T) {
	s := newStore(t)
	url := "https://power.larc.nasa.gov/api/temporal/daily/point?start=20240101"

	_, ok, err := s.Get(url)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Put(url, []byte("YEAR,MO,DY,ALLSKY_SFC_SW_DWN\n")))
	got, ok, err := s.Get(url)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "YEAR,MO,DY,ALLSKY_SFC_SW_DWN\n", string(got))

	require.NoError(t, s.Put(url, []byte("YEAR,MO,DY,ALLSKY_SFC_SW_DWN\n2024,1,1,2\n")))
	got, _, err = s.Get(url)
	require.NoError(t, err)
	assert.Equal(t, "YEAR,MO,DY,ALLSKY_SFC_SW_DWN\n2024,1,1,2\n", string(got), "put overwrites")
}

func TestStorePersistence(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(Config{Path: dir})
	require.NoError(t, err)
	require.NoError(t, s.Put("k", []byte("v")))
	require.NoError(t, s.Close())

	s, err = Open(Config{Path: dir})
	require.NoError(t, err)
	defer s.Close()
	got, ok, err := s.Get("k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v"), got)
}

func TestKey(t *testing.T) {
	a := Key("https://example.com/a")
	b := Key("https://example.com/b")
	assert.Len(t, a, len(keyPrefix)+8)
	assert.Equal(t, a, Key("https://example.com/a"))
	assert.NotEqual(t, a, b)
}
