package session

import (
	"github.com/vmihailenco/msgpack/v5"
)

// CodecName msgpack编码名称，对应Content-Type: application/msgpack
const CodecName = "msgpack"

// Codec connect的msgpack编解码器
// 说明：快照与推进接口的消息不是protobuf类型，使用msgpack传输
type Codec struct{}

func (Codec) Name() string {
	return CodecName
}

func (Codec) Marshal(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (Codec) Unmarshal(data []byte, v any) error {
	return msgpack.Unmarshal(data, v)
}
