package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"treemap/call"
	"treemap/calls"
	"treemap/client"
	"treemap/codec"
	"treemap/infocache"
	"treemap/schema"
	"treemap/server"
	"treemap/summary"
	"treemap/transport"
	"treemap/treeindex"
)

var (
	maple = calls.Tree{Lat: 47.65, Lng: -122.30, Name: "Bigleaf maple", Species: "Acer macrophyllum"}
	apple = calls.Tree{Lat: 47.70, Lng: -122.20, Name: "Apple", Species: "Malus sp."}
)

type fakePages struct {
	mu       sync.Mutex
	finds    map[string]int
	pages    map[string]*summary.Page
	imageErr error
}

func newFakePages() *fakePages {
	return &fakePages{
		finds: make(map[string]int),
		pages: map[string]*summary.Page{
			"Acer macrophyllum": {
				Title:   "Acer macrophyllum",
				URL:     "https://en.wikipedia.org/wiki/Acer_macrophyllum",
				Extract: "**Acer macrophyllum**, the bigleaf maple.",
			},
			"Malus sp.": {Title: "Malus", URL: "https://en.wikipedia.org/wiki/Malus"},
		},
	}
}

func (f *fakePages) FindSpecies(_ context.Context, species string) (*summary.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finds[species]++
	page, ok := f.pages[species]
	if !ok {
		return nil, summary.ErrNotFound
	}
	return page, nil
}

func (f *fakePages) MainImage(_ context.Context, page *summary.Page) (string, error) {
	if f.imageErr != nil {
		return "", f.imageErr
	}
	return page.URL + "/lead.jpg", nil
}

func (f *fakePages) findCount(species string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.finds[species]
}

type summarizerFunc func(ctx context.Context, pageURL string) (string, error)

func (fn summarizerFunc) Summarize(ctx context.Context, pageURL string) (string, error) {
	return fn(ctx, pageURL)
}

func newService(t *testing.T, pages PageFinder, opts ...Option) *Service {
	t.Helper()
	ix, err := treeindex.New([]calls.Tree{maple, apple})
	require.NoError(t, err)
	return New("pk.test", treeindex.NewStore(ix), infocache.Open("", zerolog.Nop()), pages, opts...)
}

func TestCallsEndToEnd(t *testing.T) {
	svc := newService(t, newFakePages())
	srv, err := server.New(svc.Register, server.WithCatalog(calls.Catalog))
	require.NoError(t, err)
	t.Cleanup(func() { srv.Shutdown(0) })

	a, b := transport.Pipe()
	go srv.ServeConn(b, &codec.JSONCodec{}, server.ConnInfo{Transport: "pipe"})
	c := client.New(a)
	t.Cleanup(func() { c.Close() })
	ctx := context.Background()

	token, err := client.Connect(c, calls.GetMapboxToken).Call(ctx, schema.Null{})
	require.NoError(t, err)
	assert.Equal(t, "pk.test", token)

	bounds, err := client.Connect(c, calls.GetMapBounds).Call(ctx, schema.Null{})
	require.NoError(t, err)
	assert.Equal(t, calls.Bounds{N: 47.70, S: 47.65, E: -122.20, W: -122.30}, bounds)

	center, err := client.Connect(c, calls.GetMapCenter).Call(ctx, schema.Null{})
	require.NoError(t, err)
	assert.InDelta(t, 47.675, center.Lat, 1e-9)
	assert.InDelta(t, -122.25, center.Lng, 1e-9)

	info, err := client.Connect(c, calls.GetTreeInfoAtPoint).Call(ctx, calls.Point{Lng: -122.30005, Lat: 47.65005})
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, &calls.TreeInfo{
		Title:       "Bigleaf maple",
		Description: "**Acer macrophyllum**, the bigleaf maple.",
		ImageURL:    "https://en.wikipedia.org/wiki/Acer_macrophyllum/lead.jpg",
		PageURL:     "https://en.wikipedia.org/wiki/Acer_macrophyllum",
		Tree:        maple,
	}, info)

	info, err = client.Connect(c, calls.GetTreeInfoAtPoint).Call(ctx, calls.Point{Lng: 0.5, Lat: 0.5})
	require.NoError(t, err)
	assert.Nil(t, info)

	info, err = client.Connect(c, calls.GetTreeInfoAtPoint).Call(ctx, calls.Point{Lng: -122.33, Lat: 47.61})
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestNoTreeNearDowntown(t *testing.T) {
	pages := newFakePages()
	svc := newService(t, pages)

	info, err := svc.TreeInfoAtPoint(context.Background(), calls.Point{Lng: -122.33, Lat: 47.61})
	require.NoError(t, err)
	assert.Nil(t, info)
	assert.Zero(t, pages.findCount(maple.Species)+pages.findCount(apple.Species))
}

func TestTreeInfoIsCachedPerSpecies(t *testing.T) {
	pages := newFakePages()
	svc := newService(t, pages)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		info, err := svc.TreeInfoAtPoint(ctx, calls.Point{Lng: maple.Lng, Lat: maple.Lat})
		require.NoError(t, err)
		require.NotNil(t, info)
	}
	assert.Equal(t, 1, pages.findCount("Acer macrophyllum"))
	assert.Equal(t, 1, svc.cache.Len())
}

func TestDefaultsWhenNothingFound(t *testing.T) {
	pages := newFakePages()
	pages.imageErr = errors.New("infobox missing")
	svc := newService(t, pages)

	info, err := svc.TreeInfoAtPoint(context.Background(), calls.Point{Lng: apple.Lng, Lat: apple.Lat})
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, NoDescription, info.Description)
	assert.Empty(t, info.ImageURL)
	assert.Equal(t, "https://en.wikipedia.org/wiki/Malus", info.PageURL)
	assert.Equal(t, "Apple", info.Title)
}

func TestSummarizerPreferredOverExtract(t *testing.T) {
	var asked []string
	svc := newService(t, newFakePages(), WithSummarizer(summarizerFunc(func(_ context.Context, u string) (string, error) {
		asked = append(asked, u)
		return "A tall maple of the Pacific coast.", nil
	})))

	info, err := svc.TreeInfoAtPoint(context.Background(), calls.Point{Lng: maple.Lng, Lat: maple.Lat})
	require.NoError(t, err)
	assert.Equal(t, "A tall maple of the Pacific coast.", info.Description)
	assert.Equal(t, []string{"https://en.wikipedia.org/wiki/Acer_macrophyllum"}, asked)
}

func TestSummarizerFailureFallsBackToExtract(t *testing.T) {
	svc := newService(t, newFakePages(), WithSummarizer(summarizerFunc(func(context.Context, string) (string, error) {
		return "", errors.New("quota exceeded")
	})))

	info, err := svc.TreeInfoAtPoint(context.Background(), calls.Point{Lng: maple.Lng, Lat: maple.Lat})
	require.NoError(t, err)
	assert.Equal(t, "**Acer macrophyllum**, the bigleaf maple.", info.Description)
}

func TestPageNotFoundIsHandlerError(t *testing.T) {
	pages := newFakePages()
	delete(pages.pages, "Acer macrophyllum")
	svc := newService(t, pages)

	d := server.NewDispatcher()
	require.NoError(t, svc.Register(d))
	_, err := svc.TreeInfoAtPoint(context.Background(), calls.Point{Lng: maple.Lng, Lat: maple.Lat})
	assert.ErrorIs(t, err, summary.ErrNotFound)
	assert.Equal(t, 0, svc.cache.Len(), "failed lookups are not cached")
}

func TestNoIndex(t *testing.T) {
	svc := New("pk.test", treeindex.NewStore(nil), infocache.Open("", zerolog.Nop()), newFakePages())
	_, err := svc.MapBounds(context.Background(), schema.Null{})
	assert.Error(t, err)

	d := server.NewDispatcher()
	require.NoError(t, svc.Register(d))
	assert.ElementsMatch(t, calls.Catalog.Names(), d.Names())

	srv, err := server.New(svc.Register, server.WithCatalog(calls.Catalog))
	require.NoError(t, err)
	a, b := transport.Pipe()
	go srv.ServeConn(b, &codec.JSONCodec{}, server.ConnInfo{Transport: "pipe"})
	c := client.New(a)
	defer c.Close()
	_, err = client.Connect(c, calls.GetMapCenter).Call(context.Background(), schema.Null{})
	assert.True(t, call.IsKind(err, call.KindHandlerError), "got %v", err)
}
