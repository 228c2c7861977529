package infocache

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var maple = Info{
	Text:  "A large deciduous tree.",
	Image: "https://upload.example/maple.jpg",
	URL:   "https://en.wikipedia.org/wiki/Acer_macrophyllum",
}

func TestOpenMissingFileIsEmpty(t *testing.T) {
	c := Open(filepath.Join(t.TempDir(), "none.json"), zerolog.Nop())
	assert.Equal(t, 0, c.Len())
}

func TestOpenCorruptFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"not": "pairs"}`), 0o644))
	c := Open(path, zerolog.Nop())
	assert.Equal(t, 0, c.Len())
}

func TestOpenReadsPairs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	data := `[["Acer macrophyllum", {"text": "A large deciduous tree.", "image": "https://upload.example/maple.jpg", "url": "https://en.wikipedia.org/wiki/Acer_macrophyllum"}]]`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	c := Open(path, zerolog.Nop())
	got, ok := c.Get("Acer macrophyllum")
	require.True(t, ok)
	if diff := cmp.Diff(maple, got); diff != "" {
		t.Errorf("Get mismatch (-want +got):\n%s", diff)
	}
}

func TestGetOrFetchPersistsInOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	c := Open(path, zerolog.Nop())
	ctx := context.Background()

	for _, key := range []string{"Malus", "Acer macrophyllum", "Quercus garryana"} {
		_, err := c.GetOrFetch(ctx, key, func(context.Context) (Info, error) {
			return Info{Text: key}, nil
		})
		require.NoError(t, err)
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var pairs [][2]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &pairs))
	var keys []string
	for _, p := range pairs {
		var k string
		require.NoError(t, json.Unmarshal(p[0], &k))
		keys = append(keys, k)
	}
	assert.Equal(t, []string{"Malus", "Acer macrophyllum", "Quercus garryana"}, keys)

	reopened := Open(path, zerolog.Nop())
	assert.Equal(t, 3, reopened.Len())
	got, ok := reopened.Get("Malus")
	require.True(t, ok)
	assert.Equal(t, "Malus", got.Text)
}

func TestGetOrFetchHitSkipsFetch(t *testing.T) {
	c := Open("", zerolog.Nop())
	ctx := context.Background()
	var fetches int
	fetch := func(context.Context) (Info, error) {
		fetches++
		return maple, nil
	}
	for i := 0; i < 3; i++ {
		got, err := c.GetOrFetch(ctx, "Acer macrophyllum", fetch)
		require.NoError(t, err)
		assert.Equal(t, maple, got)
	}
	assert.Equal(t, 1, fetches)
}

func TestGetOrFetchErrorNotCached(t *testing.T) {
	c := Open("", zerolog.Nop())
	ctx := context.Background()
	boom := errors.New("wikipedia down")

	_, err := c.GetOrFetch(ctx, "Malus", func(context.Context) (Info, error) { return Info{}, boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, c.Len())

	got, err := c.GetOrFetch(ctx, "Malus", func(context.Context) (Info, error) { return maple, nil })
	require.NoError(t, err)
	assert.Equal(t, maple, got)
}

func TestConcurrentMissesShareOneFetch(t *testing.T) {
	c := Open(filepath.Join(t.TempDir(), "cache.json"), zerolog.Nop())
	release := make(chan struct{})
	var fetches atomic.Int32
	fetch := func(context.Context) (Info, error) {
		fetches.Add(1)
		<-release
		return maple, nil
	}

	const n = 8
	var started, wg sync.WaitGroup
	started.Add(n)
	wg.Add(n)
	results := make([]Info, n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			started.Done()
			info, err := c.GetOrFetch(context.Background(), "Acer macrophyllum", fetch)
			assert.NoError(t, err)
			results[i] = info
		}()
	}
	started.Wait()
	assert.Eventually(t, func() bool { return fetches.Load() == 1 }, time.Second, 5*time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), fetches.Load())
	for _, r := range results {
		assert.Equal(t, maple, r)
	}
}

func TestSaveFailureIsNotFatal(t *testing.T) {
	c := Open(filepath.Join(t.TempDir(), "missing-dir", "cache.json"), zerolog.Nop())
	got, err := c.GetOrFetch(context.Background(), "Malus", func(context.Context) (Info, error) { return maple, nil })
	require.NoError(t, err)
	assert.Equal(t, maple, got)
	assert.Equal(t, 1, c.Len())
}
