package cache

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

const (
	frameRaw  byte = 0
	frameZstd byte = 1

	defaultCompressThreshold = 16 * 1024
)

// codec serializes cached values as JSON, compressing large payloads with zstd.
type codec struct {
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
	threshold int
}

func newCodec(threshold int) (*codec, error) {
	if threshold <= 0 {
		threshold = defaultCompressThreshold
	}
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &codec{encoder: encoder, decoder: decoder, threshold: threshold}, nil
}

func (c *codec) encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if len(data) < c.threshold {
		return append([]byte{frameRaw}, data...), nil
	}
	return c.encoder.EncodeAll(data, []byte{frameZstd}), nil
}

func (c *codec) decode(data []byte, v any) error {
	if len(data) == 0 {
		return errors.New("cache: empty payload")
	}
	payload := data[1:]
	switch data[0] {
	case frameRaw:
	case frameZstd:
		var err error
		payload, err = c.decoder.DecodeAll(payload, nil)
		if err != nil {
			return fmt.Errorf("zstd decode: %w", err)
		}
	default:
		return fmt.Errorf("cache: unknown frame %d", data[0])
	}
	return json.Unmarshal(payload, v)
}
