package message

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestWireShape(t *testing.T) {
	req := &Request{ID: 3, Call: "GetTreeInfoAtPoint", Payload: json.RawMessage(`{"lng":-122.33,"lat":47.61}`)}
	data, err := json.Marshal(req)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":3,"call":"GetTreeInfoAtPoint","payload":{"lng":-122.33,"lat":47.61}}`, string(data))
}

func TestResponseWireShape(t *testing.T) {
	data, err := json.Marshal(Success(4, json.RawMessage("null")))
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":4,"ok":true,"result":null}`, string(data))

	data, err = json.Marshal(Fail(5, "unknown-call", "no handler for GetWeather"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":5,"ok":false,"error":{"kind":"unknown-call","message":"no handler for GetWeather"}}`, string(data))
}

func TestResponseFromBrowser(t *testing.T) {
	var resp Response
	require.NoError(t, json.Unmarshal([]byte(`{"id":9,"ok":false,"error":{"kind":"handler-error","message":"boom"}}`), &resp))
	assert.Equal(t, uint32(9), resp.ID)
	assert.False(t, resp.OK)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "handler-error", resp.Error.Kind)
}
