// Package service implements the four treemap calls on top of the tree index,
// the species info cache and the Wikipedia lookups.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"treemap/calls"
	"treemap/infocache"
	"treemap/logging"
	"treemap/schema"
	"treemap/server"
	"treemap/summary"
	"treemap/treeindex"
)

// NoDescription is shown when no summary or extract could be found.
const NoDescription = "No description found"

var errNoIndex = errors.New("tree data not loaded")

// PageFinder finds the Wikipedia page for a species and its lead image.
type PageFinder interface {
	FindSpecies(ctx context.Context, species string) (*summary.Page, error)
	MainImage(ctx context.Context, page *summary.Page) (string, error)
}

// Summarizer condenses the page at a URL.
type Summarizer interface {
	Summarize(ctx context.Context, pageURL string) (string, error)
}

// Service answers the map's calls.
type Service struct {
	token      string
	trees      *treeindex.Store
	cache      *infocache.Cache
	pages      PageFinder
	summarizer Summarizer // nil uses the page extract
}

// Option configures a Service.
type Option func(*Service)

// WithSummarizer makes descriptions come from s, falling back to the page
// extract when s fails.
func WithSummarizer(s Summarizer) Option {
	return func(svc *Service) { svc.summarizer = s }
}

func New(token string, trees *treeindex.Store, cache *infocache.Cache, pages PageFinder, opts ...Option) *Service {
	s := &Service{token: token, trees: trees, cache: cache, pages: pages}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register binds the four calls to d. It is the server's per-connection setup.
func (s *Service) Register(d *server.Dispatcher) error {
	return errors.Join(
		server.Register(d, calls.GetMapboxToken, s.MapboxToken),
		server.Register(d, calls.GetMapBounds, s.MapBounds),
		server.Register(d, calls.GetMapCenter, s.MapCenter),
		server.Register(d, calls.GetTreeInfoAtPoint, s.TreeInfoAtPoint),
	)
}

func (s *Service) MapboxToken(context.Context, schema.Null) (string, error) {
	return s.token, nil
}

func (s *Service) MapBounds(context.Context, schema.Null) (calls.Bounds, error) {
	ix := s.trees.Index()
	if ix == nil {
		return calls.Bounds{}, errNoIndex
	}
	return ix.Bounds(), nil
}

func (s *Service) MapCenter(context.Context, schema.Null) (calls.Point, error) {
	ix := s.trees.Index()
	if ix == nil {
		return calls.Point{}, errNoIndex
	}
	return ix.Center(), nil
}

// TreeInfoAtPoint describes the tree under pt, or returns nil when there is
// none. Species descriptions are looked up once and then served from the cache.
func (s *Service) TreeInfoAtPoint(ctx context.Context, pt calls.Point) (*calls.TreeInfo, error) {
	ix := s.trees.Index()
	if ix == nil {
		return nil, errNoIndex
	}
	tree, ok := ix.TreeAt(pt.Lng, pt.Lat)
	if !ok {
		return nil, nil
	}
	info, err := s.cache.GetOrFetch(ctx, tree.Species, func(ctx context.Context) (infocache.Info, error) {
		return s.lookup(ctx, tree.Species)
	})
	if err != nil {
		return nil, err
	}
	return &calls.TreeInfo{
		Title:       tree.Name,
		Description: info.Text,
		ImageURL:    info.Image,
		PageURL:     info.URL,
		Tree:        tree,
	}, nil
}

func (s *Service) lookup(ctx context.Context, species string) (infocache.Info, error) {
	logger := zerolog.Ctx(ctx).With().Str("species", species).Logger()

	page, err := logging.Time(logger, "find page", func() (*summary.Page, error) {
		return s.pages.FindSpecies(ctx, species)
	})
	if err != nil {
		return infocache.Info{}, fmt.Errorf("find page for %s: %w", species, err)
	}

	var text, image string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		text = s.describe(gctx, logger, page)
		return nil
	})
	g.Go(func() error {
		img, err := s.pages.MainImage(gctx, page)
		if err != nil {
			logger.Warn().Err(err).Str("page", page.URL).Msg("no main image")
			return nil
		}
		image = img
		return nil
	})
	_, _ = logging.Time(logger, "load summary and image", func() (struct{}, error) {
		return struct{}{}, g.Wait()
	})

	if text == "" {
		text = NoDescription
	}
	return infocache.Info{Text: text, Image: image, URL: page.URL}, nil
}

func (s *Service) describe(ctx context.Context, logger zerolog.Logger, page *summary.Page) string {
	if s.summarizer != nil && page.URL != "" {
		text, err := s.summarizer.Summarize(ctx, page.URL)
		if err == nil && text != "" {
			return text
		}
		logger.Warn().Err(err).Str("page", page.URL).Msg("summarizer failed, using page extract")
	}
	return page.Extract
}
