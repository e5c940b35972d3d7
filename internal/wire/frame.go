// Package wire defines the framed request/response records exchanged over a
// gateway connection and the format-negotiated codecs that encode them.
package wire

import (
	"fmt"

	"github.com/google/uuid"
)

// StatusCode is the closed enumeration carried on every response frame.
type StatusCode int32

const (
	StatusOK               StatusCode = 0
	StatusError            StatusCode = 1
	StatusInvalidData      StatusCode = 2
	StatusPermissionDenied StatusCode = 3
)

func (s StatusCode) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusError:
		return "ERROR"
	case StatusInvalidData:
		return "INVALID_DATA"
	case StatusPermissionDenied:
		return "PERMISSION_DENIED"
	default:
		return fmt.Sprintf("STATUS(%d)", int32(s))
	}
}

// Request is an inbound frame after decoding. Data is the schema-free payload
// the registered handler receives.
type Request struct {
	PkgID  int32
	ReqID  uuid.UUID
	Method string
	Data   map[string]any
}

// Meta carries optional pagination metadata on a response.
type Meta struct {
	Page    int32 `json:"page"`
	PerPage int32 `json:"per_page"`
	Total   int32 `json:"total"`
	Pages   int32 `json:"pages"`
}

// Response is an outbound frame. PkgID and ReqID echo the request.
type Response struct {
	PkgID      int32
	ReqID      uuid.UUID
	StatusCode StatusCode
	Data       map[string]any
	Meta       *Meta
}

// Broadcast is a server-initiated frame fanned out to all live connections.
// It carries the well-known null request identifier and no status code.
type Broadcast struct {
	PkgID int32
	Data  map[string]any
}

// OK builds a success response echoing the request identifiers.
func OK(req *Request, data map[string]any) *Response {
	return &Response{PkgID: req.PkgID, ReqID: req.ReqID, StatusCode: StatusOK, Data: data}
}

// Err builds an error response echoing the request identifiers.
func Err(req *Request, status StatusCode, data map[string]any) *Response {
	return &Response{PkgID: req.PkgID, ReqID: req.ReqID, StatusCode: status, Data: data}
}

// DecodeError marks a frame that could not be decoded. The endpoint closes
// the connection with code 1003 when it sees one.
type DecodeError struct {
	Format Format
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s frame: %s", e.Format, e.Reason)
}
