package transport

import (
	"github.com/vmihailenco/msgpack"
	"google.golang.org/grpc/encoding"
)

// codecName is the gRPC content-subtype node messages travel under.
const codecName = "msgpack"

// msgpackCodec lets node.Message, including its raw blob, cross the wire
// without generated protobuf types.
type msgpackCodec struct{}

func (msgpackCodec) Marshal(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (msgpackCodec) Unmarshal(data []byte, v any) error {
	return msgpack.Unmarshal(data, v)
}

func (msgpackCodec) Name() string {
	return codecName
}

func init() {
	encoding.RegisterCodec(msgpackCodec{})
}
