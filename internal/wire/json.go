package wire

import (
	"encoding/json"

	"github.com/google/uuid"
)

// JSONCodec is the default textual format: UTF-8 frames carrying one JSON
// object per frame. UUIDs are serialized in canonical 36-character form.
type JSONCodec struct{}

func (JSONCodec) Format() Format { return FormatJSON }

type jsonRequest struct {
	PkgID  *int32         `json:"pkg_id"`
	ReqID  string         `json:"req_id"`
	Method string         `json:"method,omitempty"`
	Data   map[string]any `json:"data"`
}

type jsonResponse struct {
	PkgID      int32          `json:"pkg_id"`
	ReqID      string         `json:"req_id"`
	StatusCode StatusCode     `json:"status_code"`
	Data       map[string]any `json:"data"`
	Meta       *Meta          `json:"meta,omitempty"`
}

type jsonBroadcast struct {
	PkgID int32          `json:"pkg_id"`
	ReqID *string        `json:"req_id"`
	Data  map[string]any `json:"data"`
}

func (JSONCodec) Decode(frame []byte) (*Request, error) {
	var raw jsonRequest
	if err := json.Unmarshal(frame, &raw); err != nil {
		return nil, &DecodeError{Format: FormatJSON, Reason: err.Error()}
	}
	if raw.PkgID == nil {
		return nil, &DecodeError{Format: FormatJSON, Reason: "missing pkg_id"}
	}
	reqID, err := uuid.Parse(raw.ReqID)
	if err != nil {
		return nil, &DecodeError{Format: FormatJSON, Reason: "req_id is not a UUID"}
	}
	data := raw.Data
	if data == nil {
		data = map[string]any{}
	}
	return &Request{PkgID: *raw.PkgID, ReqID: reqID, Method: raw.Method, Data: data}, nil
}

func (JSONCodec) Encode(resp *Response) ([]byte, error) {
	return json.Marshal(jsonResponse{
		PkgID:      resp.PkgID,
		ReqID:      resp.ReqID.String(),
		StatusCode: resp.StatusCode,
		Data:       resp.Data,
		Meta:       resp.Meta,
	})
}

func (JSONCodec) EncodeBroadcast(b *Broadcast) ([]byte, error) {
	return json.Marshal(jsonBroadcast{PkgID: b.PkgID, ReqID: nil, Data: b.Data})
}

func (JSONCodec) EncodeRequest(req *Request) ([]byte, error) {
	pkg := req.PkgID
	return json.Marshal(jsonRequest{
		PkgID:  &pkg,
		ReqID:  req.ReqID.String(),
		Method: req.Method,
		Data:   req.Data,
	})
}

func (JSONCodec) DecodeResponse(frame []byte) (*Response, error) {
	var raw jsonResponse
	if err := json.Unmarshal(frame, &raw); err != nil {
		return nil, &DecodeError{Format: FormatJSON, Reason: err.Error()}
	}
	// Broadcasts carry a null req_id; map it to the nil UUID.
	var reqID uuid.UUID
	if raw.ReqID != "" {
		var err error
		reqID, err = uuid.Parse(raw.ReqID)
		if err != nil {
			return nil, &DecodeError{Format: FormatJSON, Reason: "req_id is not a UUID"}
		}
	}
	return &Response{
		PkgID:      raw.PkgID,
		ReqID:      reqID,
		StatusCode: raw.StatusCode,
		Data:       raw.Data,
		Meta:       raw.Meta,
	}, nil
}
