package analyzer

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// jsonCodec transports the hand-written message structs in this package
// over a real gRPC connection without a protoc-generated stub: the codec
// name is registered once at package init and selected per-call via
// grpc.CallContentSubtype("json").
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string { return codecName }

const codecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// contentSubtype is the value passed to grpc.CallContentSubtype so every
// Invoke on this package's client negotiates the "application/grpc+json"
// wire format instead of protobuf.
const contentSubtype = codecName
