package bes

import (
	"fmt"

	"google.golang.org/protobuf/proto"
)

// frame carries an encoded message through gRPC untouched, so the service can
// decode only the fields it needs.
type frame struct {
	payload []byte
}

// codec passes frames through as raw bytes and handles every other message,
// such as those of the health service, as a regular protobuf message.
type codec struct{}

func (codec) Marshal(v any) ([]byte, error) {
	switch m := v.(type) {
	case *frame:
		return m.payload, nil
	case proto.Message:
		return proto.Marshal(m)
	default:
		return nil, fmt.Errorf("bes codec: cannot marshal %T", v)
	}
}

func (codec) Unmarshal(data []byte, v any) error {
	switch m := v.(type) {
	case *frame:
		// gRPC may reuse data once Unmarshal returns.
		m.payload = append([]byte(nil), data...)
		return nil
	case proto.Message:
		return proto.Unmarshal(data, m)
	default:
		return fmt.Errorf("bes codec: cannot unmarshal into %T", v)
	}
}

func (codec) Name() string {
	return "proto"
}
