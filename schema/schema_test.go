package schema

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var point = Object(
	Field("lng", Number()),
	Field("lat", Number()),
)

var info = NullOr(Object(
	Field("title", String()),
	Field("tree", Object(
		Field("lat", Number()),
		Field("name", String()),
	)),
))

func TestPrimitives(t *testing.T) {
	assert.NoError(t, Validate(String(), "oak"))
	assert.NoError(t, Validate(Number(), 47.61))
	assert.NoError(t, Validate(JSONNull(), nil))

	assert.Error(t, Validate(String(), 1.0))
	assert.Error(t, Validate(Number(), "1"))
	assert.Error(t, Validate(Number(), math.NaN()))
	assert.Error(t, Validate(JSONNull(), map[string]any{}))
}

func TestObjectReportsPath(t *testing.T) {
	err := Validate(point, map[string]any{"lng": -122.33})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "lat", verr.Path)
	assert.Equal(t, "missing required field", verr.Reason)

	err = Validate(point, map[string]any{"lng": "west", "lat": 47.61})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "lng", verr.Path)
	assert.Contains(t, verr.Reason, "expected number, got string")
}

func TestObjectIgnoresExtraFields(t *testing.T) {
	v := map[string]any{"lng": 1.0, "lat": 2.0, "zoom": 17.0}
	assert.NoError(t, Validate(point, v))
}

func TestNullOrUnion(t *testing.T) {
	assert.NoError(t, Validate(info, nil))
	assert.NoError(t, Validate(info, map[string]any{
		"title": "Bigleaf maple",
		"tree":  map[string]any{"lat": 47.6, "name": "Bigleaf maple"},
	}))

	err := Validate(info, map[string]any{
		"title": "Bigleaf maple",
		"tree":  map[string]any{"lat": "north", "name": "Bigleaf maple"},
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "tree.lat", verr.Path)

	err = Validate(info, "nothing")
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "", verr.Path)
	assert.Contains(t, verr.Error(), "expected null | {title: string")
}

type pt struct {
	Lng float64 `json:"lng"`
	Lat float64 `json:"lat"`
}

type tree struct {
	Lat  float64 `json:"lat"`
	Name string  `json:"name"`
}

type infoT struct {
	Title string `json:"title"`
	Tree  tree   `json:"tree"`
}

func TestCodecRoundTrip(t *testing.T) {
	pc := Of[pt](point)
	ic := Of[*infoT](info)
	nc := Of[Null](JSONNull())
	sc := Of[string](String())

	for _, p := range []pt{{}, {Lng: -122.33, Lat: 47.61}, {Lng: 180, Lat: -90}} {
		raw, err := pc.Encode(p)
		require.NoError(t, err)
		got, err := pc.Decode(raw)
		require.NoError(t, err)
		if diff := cmp.Diff(p, got); diff != "" {
			t.Errorf("point round trip (-want +got):\n%s", diff)
		}
	}

	for _, in := range []*infoT{nil, {Title: "Red alder", Tree: tree{Lat: 47.6, Name: "Red alder"}}} {
		raw, err := ic.Encode(in)
		require.NoError(t, err)
		got, err := ic.Decode(raw)
		require.NoError(t, err)
		if diff := cmp.Diff(in, got); diff != "" {
			t.Errorf("info round trip (-want +got):\n%s", diff)
		}
	}

	raw, err := nc.Encode(Null{})
	require.NoError(t, err)
	assert.JSONEq(t, "null", string(raw))
	_, err = nc.Decode(raw)
	require.NoError(t, err)

	raw, err = sc.Encode("pk.token")
	require.NoError(t, err)
	s, err := sc.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, "pk.token", s)
}

func TestCodecDecodeRejects(t *testing.T) {
	pc := Of[pt](point)

	_, err := pc.Decode(json.RawMessage(`{"lng": 1}`))
	assert.Error(t, err)

	_, err = pc.Decode(json.RawMessage(`{"lng": 1,`))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Reason, "malformed JSON")

	_, err = pc.Decode(nil)
	assert.Error(t, err)

	nc := Of[Null](JSONNull())
	_, err = nc.Decode(nil)
	assert.NoError(t, err)
	_, err = nc.Decode(json.RawMessage(`{}`))
	assert.Error(t, err)
}

func TestCodecEncodeRejectsOutput(t *testing.T) {
	// A Go type whose JSON shape disagrees with the schema.
	type wrong struct {
		Lng string  `json:"lng"`
		Lat float64 `json:"lat"`
	}
	c := Of[wrong](point)
	_, err := c.Encode(wrong{Lng: "x", Lat: 1})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "lng", verr.Path)

	_, err = Of[float64](Number()).Encode(math.Inf(1))
	assert.Error(t, err)
}
