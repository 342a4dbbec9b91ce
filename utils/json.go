package utils

import (
	"bytes"
	"sync"

	"github.com/bytedance/sonic"
)

type JSONBufferPool struct {
	pool sync.Pool
}

func (p *JSONBufferPool) Get() *bytes.Buffer {
	if buf := p.pool.Get(); buf != nil {
		return buf.(*bytes.Buffer)
	}
	return bytes.NewBuffer(make([]byte, 0, 1024))
}

func (p *JSONBufferPool) Put(buf *bytes.Buffer) {
	buf.Reset()
	if buf.Cap() < 16*1024 {
		p.pool.Put(buf)
	}
}

var jsonPool = &JSONBufferPool{}

func Marshal(data interface{}) ([]byte, error) {
	buf := jsonPool.Get()
	defer jsonPool.Put(buf)

	if err := sonic.ConfigDefault.NewEncoder(buf).Encode(data); err != nil {
		return nil, err
	}

	// Encoder appends a newline
	out := bytes.TrimRight(buf.Bytes(), "\n")
	result := make([]byte, len(out))
	copy(result, out)
	return result, nil
}

func Unmarshal[T any](data []byte, target *T) error {
	return sonic.ConfigDefault.Unmarshal(data, target)
}

// Convert re-decodes a generic value (for example a map read back from Redis) into target.
func Convert[T any](value interface{}, target *T) error {
	if typed, ok := value.(T); ok {
		*target = typed
		return nil
	}
	if typed, ok := value.(*T); ok && typed != nil {
		*target = *typed
		return nil
	}

	raw, err := sonic.ConfigDefault.Marshal(value)
	if err != nil {
		return err
	}
	return sonic.ConfigDefault.Unmarshal(raw, target)
}
