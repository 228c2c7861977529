// Package treeindex answers the geographic questions the map asks: the extent
// of the tree data set, its center, and which tree (if any) sits under a click.
package treeindex

import (
	"errors"
	"fmt"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/quadtree"

	"treemap/calls"
)

// Radius is how far from a point, in degrees, a tree may be and still count
// as being at that point.
const Radius = 0.0002

// ErrNoTrees is returned when a data set holds no usable tree.
var ErrNoTrees = errors.New("treeindex: no trees in data")

// GeoJSON property names for a tree's labels.
const (
	PropCommonName     = "COMMON_NAME"
	PropScientificName = "SCIENTIFIC_NAME"
)

// entry adapts a tree to orb.Pointer for the quadtree.
type entry struct {
	tree calls.Tree
}

func (e entry) Point() orb.Point {
	return orb.Point{e.tree.Lng, e.tree.Lat}
}

// Index is an immutable spatial index over trees.
type Index struct {
	qt     *quadtree.Quadtree
	bounds calls.Bounds
	size   int
}

// New indexes trees.
func New(trees []calls.Tree) (*Index, error) {
	if len(trees) == 0 {
		return nil, ErrNoTrees
	}
	bounds := calls.Bounds{N: trees[0].Lat, S: trees[0].Lat, E: trees[0].Lng, W: trees[0].Lng}
	for _, t := range trees[1:] {
		bounds.N = max(bounds.N, t.Lat)
		bounds.S = min(bounds.S, t.Lat)
		bounds.E = max(bounds.E, t.Lng)
		bounds.W = min(bounds.W, t.Lng)
	}

	box := orb.Bound{Min: orb.Point{bounds.W, bounds.S}, Max: orb.Point{bounds.E, bounds.N}}.Pad(Radius)
	qt := quadtree.New(box)
	for _, t := range trees {
		if err := qt.Add(entry{tree: t}); err != nil {
			return nil, fmt.Errorf("treeindex: add %s: %w", t.Name, err)
		}
	}
	return &Index{qt: qt, bounds: bounds, size: len(trees)}, nil
}

// Parse reads a GeoJSON FeatureCollection of points labeled with COMMON_NAME
// and SCIENTIFIC_NAME. Features without point geometry are skipped.
func Parse(data []byte) (*Index, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("treeindex: %w", err)
	}
	trees := make([]calls.Tree, 0, len(fc.Features))
	for _, f := range fc.Features {
		p, ok := f.Geometry.(orb.Point)
		if !ok {
			continue
		}
		trees = append(trees, calls.Tree{
			Lng:     p.X(),
			Lat:     p.Y(),
			Name:    f.Properties.MustString(PropCommonName, ""),
			Species: f.Properties.MustString(PropScientificName, ""),
		})
	}
	return New(trees)
}

// Load reads and parses the GeoJSON file at path.
func Load(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Len returns the number of indexed trees.
func (ix *Index) Len() int {
	return ix.size
}

// Bounds returns the smallest box holding every tree.
func (ix *Index) Bounds() calls.Bounds {
	return ix.bounds
}

// Center returns the midpoint of Bounds.
func (ix *Index) Center() calls.Point {
	return calls.Point{
		Lng: (ix.bounds.E + ix.bounds.W) / 2,
		Lat: (ix.bounds.N + ix.bounds.S) / 2,
	}
}

// TreeAt returns the tree nearest to (lng, lat) if it lies within Radius.
func (ix *Index) TreeAt(lng, lat float64) (calls.Tree, bool) {
	p := orb.Point{lng, lat}
	found := ix.qt.Find(p)
	if found == nil {
		return calls.Tree{}, false
	}
	if planar.DistanceSquared(found.Point(), p) > Radius*Radius {
		return calls.Tree{}, false
	}
	return found.(entry).tree, true
}
