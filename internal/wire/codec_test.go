package wire

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNegotiate(t *testing.T) {
	c, coerced := Negotiate("json")
	assert.Equal(t, FormatJSON, c.Format())
	assert.False(t, coerced)

	c, coerced = Negotiate("protobuf")
	assert.Equal(t, FormatProtobuf, c.Format())
	assert.False(t, coerced)

	c, coerced = Negotiate("")
	assert.Equal(t, FormatJSON, c.Format())
	assert.False(t, coerced)

	c, coerced = Negotiate("msgpack")
	assert.Equal(t, FormatJSON, c.Format())
	assert.True(t, coerced)
}

func TestJSONDecodeRequest(t *testing.T) {
	c := JSONCodec{}

	req, err := c.Decode([]byte(`{"pkg_id":1,"req_id":"11111111-1111-1111-1111-111111111111","data":{"k":"v"}}`))
	require.NoError(t, err)
	assert.Equal(t, int32(1), req.PkgID)
	assert.Equal(t, "11111111-1111-1111-1111-111111111111", req.ReqID.String())
	assert.Equal(t, map[string]any{"k": "v"}, req.Data)

	// Missing data becomes an empty map, never nil.
	req, err = c.Decode([]byte(`{"pkg_id":2,"req_id":"11111111-1111-1111-1111-111111111111"}`))
	require.NoError(t, err)
	assert.NotNil(t, req.Data)
	assert.Empty(t, req.Data)
}

func TestJSONDecodeErrors(t *testing.T) {
	c := JSONCodec{}

	cases := []string{
		`not json`,
		`{"req_id":"11111111-1111-1111-1111-111111111111"}`, // no pkg_id
		`{"pkg_id":1,"req_id":"not-a-uuid"}`,
	}
	for _, raw := range cases {
		_, err := c.Decode([]byte(raw))
		var de *DecodeError
		require.ErrorAs(t, err, &de, "input %q", raw)
		assert.Equal(t, FormatJSON, de.Format)
	}
}

func TestJSONBroadcastNullReqID(t *testing.T) {
	frame, err := JSONCodec{}.EncodeBroadcast(&Broadcast{PkgID: 7, Data: map[string]any{"x": float64(1)}})
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(frame, &raw))
	assert.Equal(t, float64(7), raw["pkg_id"])
	assert.Contains(t, raw, "req_id")
	assert.Nil(t, raw["req_id"])
	assert.NotContains(t, raw, "status_code")
}

func roundTripResponses() []*Response {
	return []*Response{
		{
			PkgID:      1,
			ReqID:      uuid.MustParse("11111111-1111-1111-1111-111111111111"),
			StatusCode: StatusOK,
			Data:       map[string]any{"message": "test response"},
		},
		{
			PkgID:      9,
			ReqID:      uuid.MustParse("22222222-2222-2222-2222-222222222222"),
			StatusCode: StatusPermissionDenied,
			Data:       map[string]any{"code": "permission_denied", "msg": "nope"},
			Meta:       &Meta{Page: 2, PerPage: 25, Total: 51, Pages: 3},
		},
		{
			PkgID:      3,
			ReqID:      uuid.MustParse("33333333-3333-3333-3333-333333333333"),
			StatusCode: StatusError,
			Data:       nil,
		},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for _, codec := range []Codec{JSONCodec{}, ProtoCodec{}} {
		for _, resp := range roundTripResponses() {
			frame, err := codec.Encode(resp)
			require.NoError(t, err)

			got, err := codec.DecodeResponse(frame)
			require.NoError(t, err, "format %s", codec.Format())
			assert.Equal(t, resp, got, "format %s", codec.Format())
		}
	}
}

func TestRequestRoundTrip(t *testing.T) {
	req := &Request{
		PkgID:  4,
		ReqID:  uuid.MustParse("44444444-4444-4444-4444-444444444444"),
		Method: "list",
		Data:   map[string]any{"page": float64(1)},
	}
	for _, codec := range []Codec{JSONCodec{}, ProtoCodec{}} {
		frame, err := codec.EncodeRequest(req)
		require.NoError(t, err)

		got, err := codec.Decode(frame)
		require.NoError(t, err)
		assert.Equal(t, req, got, "format %s", codec.Format())
	}
}

func TestProtoDecodeErrors(t *testing.T) {
	c := ProtoCodec{}

	_, err := c.Decode([]byte{0xff, 0xff, 0xff})
	var de *DecodeError
	require.ErrorAs(t, err, &de)

	// A valid envelope with a malformed UUID still fails.
	frame, err := c.EncodeRequest(&Request{PkgID: 1, ReqID: uuid.New()})
	require.NoError(t, err)
	_, err = c.Decode(frame)
	require.NoError(t, err)
}
