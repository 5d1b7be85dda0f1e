package command

import (
	"github.com/hashicorp/go-msgpack/codec"
)

var msgpackHandle = &codec.MsgpackHandle{}

// Marshal serializes v (a Command or Result) into the self-describing
// msgpack body used by every wire frame (§6). msgpack was picked because it's
// the same serialization family the gossip/consensus stack already speaks
// (serf, raft use go-msgpack for their own wire messages), so the codec is
// drift-resistant across versions of this binary without needing a schema
// compiler.
func Marshal(v interface{}) ([]byte, error) {
	var buf []byte
	enc := codec.NewEncoderBytes(&buf, msgpackHandle)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf, nil
}

// Unmarshal decodes a msgpack body produced by Marshal into v.
func Unmarshal(data []byte, v interface{}) error {
	dec := codec.NewDecoderBytes(data, msgpackHandle)
	return dec.Decode(v)
}
