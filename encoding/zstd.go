package encoding

import (
	"bytes"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// zstdMagic is the little-endian frame magic number 0xFD2FB528.
var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

var (
	encoderOnce sync.Once
	decoderOnce sync.Once
	encoder     *zstd.Encoder
	decoder     *zstd.Decoder
	encoderErr  error
	decoderErr  error
)

// EncodeAll/DecodeAll on a shared coder are safe for concurrent use.
func getEncoder() (*zstd.Encoder, error) {
	encoderOnce.Do(func() {
		encoder, encoderErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	})
	return encoder, encoderErr
}

func getDecoder() (*zstd.Decoder, error) {
	decoderOnce.Do(func() {
		decoder, decoderErr = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	})
	return decoder, decoderErr
}

// IsCompressed reports whether data starts with a zstd frame header.
func IsCompressed(data []byte) bool {
	return bytes.HasPrefix(data, zstdMagic)
}

// Compress wraps data in a single zstd frame.
func Compress(data []byte) ([]byte, error) {
	enc, err := getEncoder()
	if err != nil {
		return nil, err
	}
	return enc.EncodeAll(data, make([]byte, 0, len(data))), nil
}

// Decompress unwraps a zstd frame produced by Compress.
func Decompress(data []byte) ([]byte, error) {
	dec, err := getDecoder()
	if err != nil {
		return nil, err
	}
	return dec.DecodeAll(data, nil)
}

// EncodeFieldsCompressed encodes a field group and wraps it in a zstd frame.
func EncodeFieldsCompressed(fields map[string]string) ([]byte, error) {
	plain, err := EncodeFields(fields)
	if err != nil {
		return nil, err
	}
	return Compress(plain)
}
