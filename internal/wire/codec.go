package wire

// Format is the wire encoding negotiated at handshake via the format query
// parameter. It applies to every frame in both directions for the lifetime of
// the connection.
type Format string

const (
	FormatJSON     Format = "json"
	FormatProtobuf Format = "protobuf"
)

// Codec encodes and decodes frames in one negotiated format. Implementations
// are stateless and safe for concurrent use.
type Codec interface {
	Format() Format
	// Decode parses an inbound frame. Failures are *DecodeError.
	Decode(frame []byte) (*Request, error)
	Encode(resp *Response) ([]byte, error)
	EncodeBroadcast(b *Broadcast) ([]byte, error)

	// Client-side halves, used by the load-test client and round-trip tests.
	EncodeRequest(req *Request) ([]byte, error)
	DecodeResponse(frame []byte) (*Response, error)
}

// Negotiate maps the raw query parameter to a codec. Empty selects JSON; an
// unknown value is coerced to JSON and reported so the endpoint can warn.
func Negotiate(raw string) (Codec, bool) {
	switch Format(raw) {
	case FormatProtobuf:
		return ProtoCodec{}, false
	case FormatJSON, Format(""):
		return JSONCodec{}, false
	default:
		return JSONCodec{}, true
	}
}
