package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"treemap/call"
	"treemap/calls"
	"treemap/message"
)

func echoHandler(ctx context.Context, req *message.Request) *message.Response {
	return message.Success(req.ID, json.RawMessage(`"ok"`))
}

func failingHandler(ctx context.Context, req *message.Request) *message.Response {
	return message.Fail(req.ID, string(call.KindHandlerError), "lookup failed")
}

func TestLoggingUsesContextLogger(t *testing.T) {
	var buf bytes.Buffer
	ctx := zerolog.New(&buf).WithContext(context.Background())

	resp := Logging()(failingHandler)(ctx, &message.Request{ID: 4, Call: "GetTreeInfoAtPoint"})
	require.False(t, resp.OK)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "GetTreeInfoAtPoint", entry["call"])
	assert.Equal(t, "handler-error", entry["outcome"])
	assert.Equal(t, "lookup failed", entry["error"])
}

func TestLoggingWithoutLoggerIsSilent(t *testing.T) {
	resp := Logging()(echoHandler)(context.Background(), &message.Request{ID: 1, Call: "GetMapCenter"})
	assert.True(t, resp.OK)
}

func TestRateLimit(t *testing.T) {
	// rate=1 per second, burst=2: the first two pass, the third is refused.
	handler := RateLimit(1, 2)(echoHandler)
	req := &message.Request{ID: 1, Call: "GetMapBounds"}

	for i := 0; i < 2; i++ {
		assert.True(t, handler(context.Background(), req).OK, "request %d", i)
	}
	resp := handler(context.Background(), req)
	require.False(t, resp.OK)
	assert.Equal(t, string(call.KindRateLimited), resp.Error.Kind)
	assert.Equal(t, uint32(1), resp.ID)
}

func TestRateLimitBucketPerChain(t *testing.T) {
	mw := RateLimit(1, 1)
	a, b := mw(echoHandler), mw(echoHandler)
	req := &message.Request{ID: 1, Call: "GetMapBounds"}

	assert.True(t, a(context.Background(), req).OK)
	assert.False(t, a(context.Background(), req).OK)
	assert.True(t, b(context.Background(), req).OK)
}

func TestChainOrder(t *testing.T) {
	var order []string
	trace := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, req *message.Request) *message.Response {
				order = append(order, name+".before")
				resp := next(ctx, req)
				order = append(order, name+".after")
				return resp
			}
		}
	}

	handler := Chain(trace("A"), trace("B"), Logging(), Metrics(calls.Catalog))(echoHandler)
	resp := handler(context.Background(), &message.Request{ID: 9, Call: "GetMapboxToken"})
	assert.True(t, resp.OK)
	assert.Equal(t, []string{"A.before", "B.before", "B.after", "A.after"}, order)
}

func unknownCallHandler(ctx context.Context, req *message.Request) *message.Response {
	return message.Fail(req.ID, string(call.KindUnknownCall), fmt.Sprintf("no handler for call %q", req.Call))
}

// callLabels returns the call label of every treemap_rpc_calls_total series.
func callLabels(t *testing.T) []string {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	var labels []string
	for _, mf := range families {
		if mf.GetName() != "treemap_rpc_calls_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "call" {
					labels = append(labels, lp.GetValue())
				}
			}
		}
	}
	return labels
}

func TestMetricsBoundsCallLabels(t *testing.T) {
	ctx := context.Background()
	unknown := Metrics(nil)(unknownCallHandler)
	limited := Chain(Metrics(calls.Catalog), RateLimit(1, 1))(echoHandler)
	for i := 0; i < 50; i++ {
		unknown(ctx, &message.Request{ID: uint32(i), Call: fmt.Sprintf("junk-%d", i)})
		limited(ctx, &message.Request{ID: uint32(i), Call: fmt.Sprintf("bogus-%d", i)})
	}
	Metrics(calls.Catalog)(echoHandler)(ctx, &message.Request{ID: 99, Call: "GetMapCenter"})

	labels := callLabels(t)
	assert.Contains(t, labels, UnknownCall)
	assert.Contains(t, labels, "GetMapCenter")
	for _, l := range labels {
		assert.False(t, strings.HasPrefix(l, "junk-") || strings.HasPrefix(l, "bogus-"), "peer-chosen label %q", l)
	}
}
