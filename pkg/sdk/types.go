package sdk

import "time"

// Config holds the gateway client configuration.
type Config struct {
	// GatewayURL is the gateway endpoint (required)
	// Examples: "https://gateway.yourcompany.com", "http://localhost:8080"
	GatewayURL string

	// Token is the bearer token presented during the handshake
	Token string

	// Format selects the wire encoding: "json" or "protobuf" (default json)
	Format string

	// Timeout bounds each request round trip (default 30s)
	Timeout time.Duration

	// OnBroadcast is called for server-pushed frames observed while a
	// request is waiting for its reply. Optional.
	OnBroadcast func(b *Broadcast)
}

// Status is the request outcome reported by the gateway.
type Status int

const (
	StatusOK               Status = 0
	StatusError            Status = 1
	StatusInvalidData      Status = 2
	StatusPermissionDenied Status = 3
)

func (s Status) String() string {
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
		return "UNKNOWN"
	}
}

// Response is one reply frame.
type Response struct {
	PkgID  int32
	Status Status
	Data   map[string]any
}

// Broadcast is a server-pushed frame addressed to every connection.
type Broadcast struct {
	PkgID int32
	Data  map[string]any
}

// Built-in package types served by the gateway.
const (
	PkgEcho       int32 = 1
	PkgWhoAmI     int32 = 2
	PkgBroadcast  int32 = 3
	PkgServerTime int32 = 4
)
