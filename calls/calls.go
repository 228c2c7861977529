// Package calls is the call registry served by treemap: the four calls the map
// page makes, with their wire types.
package calls

import (
	"treemap/call"
	"treemap/schema"
)

// Bounds is the bounding box of the tree data set, in degrees.
type Bounds struct {
	N float64 `json:"n"`
	S float64 `json:"s"`
	E float64 `json:"e"`
	W float64 `json:"w"`
}

// Point is a map location.
type Point struct {
	Lng float64 `json:"lng"`
	Lat float64 `json:"lat"`
}

// Tree is one labeled point of the data set.
type Tree struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Name    string  `json:"name"`
	Species string  `json:"species"`
}

// TreeInfo is what the popup for a tree shows.
type TreeInfo struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	ImageURL    string `json:"imageUrl"`
	PageURL     string `json:"pageUrl"`
	Tree        Tree   `json:"tree"`
}

var (
	boundsSchema = schema.Object(
		schema.Field("n", schema.Number()),
		schema.Field("s", schema.Number()),
		schema.Field("e", schema.Number()),
		schema.Field("w", schema.Number()),
	)
	pointSchema = schema.Object(
		schema.Field("lng", schema.Number()),
		schema.Field("lat", schema.Number()),
	)
	treeSchema = schema.Object(
		schema.Field("lat", schema.Number()),
		schema.Field("lng", schema.Number()),
		schema.Field("name", schema.String()),
		schema.Field("species", schema.String()),
	)
	treeInfoSchema = schema.NullOr(schema.Object(
		schema.Field("pageUrl", schema.String()),
		schema.Field("imageUrl", schema.String()),
		schema.Field("description", schema.String()),
		schema.Field("title", schema.String()),
		schema.Field("tree", treeSchema),
	))
)

var (
	GetMapboxToken = call.New("GetMapboxToken",
		schema.Of[schema.Null](schema.JSONNull()),
		schema.Of[string](schema.String()))

	GetMapBounds = call.New("GetMapBounds",
		schema.Of[schema.Null](schema.JSONNull()),
		schema.Of[Bounds](boundsSchema))

	GetMapCenter = call.New("GetMapCenter",
		schema.Of[schema.Null](schema.JSONNull()),
		schema.Of[Point](pointSchema))

	// GetTreeInfoAtPoint resolves to nil when no tree is near the point.
	GetTreeInfoAtPoint = call.New("GetTreeInfoAtPoint",
		schema.Of[Point](pointSchema),
		schema.Of[*TreeInfo](treeInfoSchema))
)

// Catalog lists every call above; building it checks names are unique.
var Catalog = call.MustCatalog(
	GetMapboxToken,
	GetMapBounds,
	GetMapCenter,
	GetTreeInfoAtPoint,
)
