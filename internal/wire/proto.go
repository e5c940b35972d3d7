package wire

import (
	"encoding/json"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"
)

// ProtoCodec is the binary format: a protowire envelope whose payload travels
// as a nested JSON string, keeping payloads schema-free while the envelope
// stays a tight field-numbered record.
//
// Request:  1=pkg_id varint, 2=req_id string, 3=method string, 4=data_json string
// Response: 1=pkg_id varint, 2=req_id string, 3=status_code varint,
//           4=data_json string, 5=meta message{1=page,2=per_page,3=total,4=pages}
type ProtoCodec struct{}

func (ProtoCodec) Format() Format { return FormatProtobuf }

func (ProtoCodec) Decode(frame []byte) (*Request, error) {
	req := &Request{Data: map[string]any{}}
	var reqIDRaw, dataJSON string
	var sawPkg, sawReqID bool

	err := walkFields(frame, func(num protowire.Number, typ protowire.Type, val []byte, uv uint64) error {
		switch num {
		case 1:
			req.PkgID = int32(uv)
			sawPkg = true
		case 2:
			reqIDRaw = string(val)
			sawReqID = true
		case 3:
			req.Method = string(val)
		case 4:
			dataJSON = string(val)
		}
		return nil
	})
	if err != nil {
		return nil, &DecodeError{Format: FormatProtobuf, Reason: err.Error()}
	}
	if !sawPkg || !sawReqID {
		return nil, &DecodeError{Format: FormatProtobuf, Reason: "missing pkg_id or req_id"}
	}
	reqID, err := uuid.Parse(reqIDRaw)
	if err != nil {
		return nil, &DecodeError{Format: FormatProtobuf, Reason: "req_id is not a UUID"}
	}
	req.ReqID = reqID
	if dataJSON != "" {
		if err := json.Unmarshal([]byte(dataJSON), &req.Data); err != nil {
			return nil, &DecodeError{Format: FormatProtobuf, Reason: "data_json: " + err.Error()}
		}
	}
	return req, nil
}

func (ProtoCodec) Encode(resp *Response) ([]byte, error) {
	var buf []byte
	buf = protowire.AppendTag(buf, 1, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(resp.PkgID))
	buf = protowire.AppendTag(buf, 2, protowire.BytesType)
	buf = protowire.AppendString(buf, resp.ReqID.String())
	buf = protowire.AppendTag(buf, 3, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(resp.StatusCode))
	if resp.Data != nil {
		data, err := json.Marshal(resp.Data)
		if err != nil {
			return nil, err
		}
		buf = protowire.AppendTag(buf, 4, protowire.BytesType)
		buf = protowire.AppendBytes(buf, data)
	}
	if resp.Meta != nil {
		buf = protowire.AppendTag(buf, 5, protowire.BytesType)
		buf = protowire.AppendBytes(buf, encodeMeta(resp.Meta))
	}
	return buf, nil
}

func (c ProtoCodec) EncodeBroadcast(b *Broadcast) ([]byte, error) {
	// A broadcast is a response frame with the null request identifier and no
	// status field.
	var buf []byte
	buf = protowire.AppendTag(buf, 1, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(b.PkgID))
	buf = protowire.AppendTag(buf, 2, protowire.BytesType)
	buf = protowire.AppendString(buf, uuid.Nil.String())
	if b.Data != nil {
		data, err := json.Marshal(b.Data)
		if err != nil {
			return nil, err
		}
		buf = protowire.AppendTag(buf, 4, protowire.BytesType)
		buf = protowire.AppendBytes(buf, data)
	}
	return buf, nil
}

func (ProtoCodec) EncodeRequest(req *Request) ([]byte, error) {
	var buf []byte
	buf = protowire.AppendTag(buf, 1, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(req.PkgID))
	buf = protowire.AppendTag(buf, 2, protowire.BytesType)
	buf = protowire.AppendString(buf, req.ReqID.String())
	if req.Method != "" {
		buf = protowire.AppendTag(buf, 3, protowire.BytesType)
		buf = protowire.AppendString(buf, req.Method)
	}
	if req.Data != nil {
		data, err := json.Marshal(req.Data)
		if err != nil {
			return nil, err
		}
		buf = protowire.AppendTag(buf, 4, protowire.BytesType)
		buf = protowire.AppendBytes(buf, data)
	}
	return buf, nil
}

func (ProtoCodec) DecodeResponse(frame []byte) (*Response, error) {
	resp := &Response{}
	var reqIDRaw, dataJSON string
	var metaRaw []byte

	err := walkFields(frame, func(num protowire.Number, typ protowire.Type, val []byte, uv uint64) error {
		switch num {
		case 1:
			resp.PkgID = int32(uv)
		case 2:
			reqIDRaw = string(val)
		case 3:
			resp.StatusCode = StatusCode(uv)
		case 4:
			dataJSON = string(val)
		case 5:
			metaRaw = val
		}
		return nil
	})
	if err != nil {
		return nil, &DecodeError{Format: FormatProtobuf, Reason: err.Error()}
	}
	reqID, err := uuid.Parse(reqIDRaw)
	if err != nil {
		return nil, &DecodeError{Format: FormatProtobuf, Reason: "req_id is not a UUID"}
	}
	resp.ReqID = reqID
	if dataJSON != "" {
		resp.Data = map[string]any{}
		if err := json.Unmarshal([]byte(dataJSON), &resp.Data); err != nil {
			return nil, &DecodeError{Format: FormatProtobuf, Reason: "data_json: " + err.Error()}
		}
	}
	if metaRaw != nil {
		meta, err := decodeMeta(metaRaw)
		if err != nil {
			return nil, &DecodeError{Format: FormatProtobuf, Reason: err.Error()}
		}
		resp.Meta = meta
	}
	return resp, nil
}

func encodeMeta(m *Meta) []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, 1, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(m.Page))
	buf = protowire.AppendTag(buf, 2, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(m.PerPage))
	buf = protowire.AppendTag(buf, 3, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(m.Total))
	buf = protowire.AppendTag(buf, 4, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(m.Pages))
	return buf
}

func decodeMeta(raw []byte) (*Meta, error) {
	m := &Meta{}
	err := walkFields(raw, func(num protowire.Number, typ protowire.Type, val []byte, uv uint64) error {
		switch num {
		case 1:
			m.Page = int32(uv)
		case 2:
			m.PerPage = int32(uv)
		case 3:
			m.Total = int32(uv)
		case 4:
			m.Pages = int32(uv)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// walkFields iterates the top-level fields of a protowire record, passing
// bytes fields through val and varint fields through uv. Unknown fields are
// skipped so the envelope can grow without breaking old peers.
func walkFields(buf []byte, visit func(num protowire.Number, typ protowire.Type, val []byte, uv uint64) error) error {
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return protowire.ParseError(n)
		}
		buf = buf[n:]
		switch typ {
		case protowire.VarintType:
			uv, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return protowire.ParseError(n)
			}
			if err := visit(num, typ, nil, uv); err != nil {
				return err
			}
			buf = buf[n:]
		case protowire.BytesType:
			val, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return protowire.ParseError(n)
			}
			if err := visit(num, typ, val, 0); err != nil {
				return err
			}
			buf = buf[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return protowire.ParseError(n)
			}
			buf = buf[n:]
		}
	}
	return nil
}
