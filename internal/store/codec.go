package store

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies how a message payload is stored. The value is
// persisted in capsules.message_codec; changing it breaks existing rows.
type Compression uint8

const (
	// CompressionNone stores the payload verbatim.
	CompressionNone Compression = 0

	// CompressionZstd stores a zstd frame. Good ratios on text payloads.
	CompressionZstd Compression = 1

	// CompressionLZ4 stores an LZ4 block. Cheaper to decode than zstd.
	CompressionLZ4 Compression = 2
)

// minCompressSize is the payload size below which compression is skipped.
const minCompressSize = 64

var errIncompressible = errors.New("incompressible")

// String returns the human-readable name of a compression.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("unknown(%d)", c)
	}
}

// ParseCompression parses a compression from its string representation.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "none":
		return CompressionNone, nil
	case "zstd":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	default:
		return 0, fmt.Errorf("unknown compression: %q", name)
	}
}

// zstd.Encoder and zstd.Decoder are safe for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("store: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("store: zstd decoder initialization failed: " + err.Error())
	}
}

// encodeMessage compresses message with the preferred algorithm. Small or
// incompressible payloads are stored verbatim. The returned slice is never
// nil, since the message column is NOT NULL.
func encodeMessage(message []byte, preferred Compression) ([]byte, Compression, error) {
	if len(message) < minCompressSize || preferred == CompressionNone {
		return nonNil(message), CompressionNone, nil
	}

	var (
		out []byte
		err error
	)
	switch preferred {
	case CompressionZstd:
		out = zstdEncoder.EncodeAll(message, nil)
		if len(out) >= len(message) {
			err = errIncompressible
		}
	case CompressionLZ4:
		out, err = compressLZ4(message)
	default:
		return nil, 0, fmt.Errorf("unsupported compression: %s", preferred)
	}
	if errors.Is(err, errIncompressible) {
		return nonNil(message), CompressionNone, nil
	}
	if err != nil {
		return nil, 0, err
	}
	return out, preferred, nil
}

// decodeMessage reverses encodeMessage. size must match the original length.
func decodeMessage(stored []byte, codec Compression, size int) ([]byte, error) {
	switch codec {
	case CompressionNone:
		if len(stored) != size {
			return nil, fmt.Errorf("message: size %d does not match expected %d", len(stored), size)
		}
		return stored, nil
	case CompressionZstd:
		out, err := zstdDecoder.DecodeAll(stored, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(out) != size {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(out), size)
		}
		return out, nil
	case CompressionLZ4:
		out := make([]byte, size)
		read, err := lz4.UncompressBlock(stored, out)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if read != size {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, size)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported compression: %s", codec)
	}
}

func compressLZ4(data []byte) ([]byte, error) {
	out := make([]byte, lz4.CompressBlockBound(len(data)))
	written, err := lz4.CompressBlock(data, out, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	// CompressBlock returns 0 for incompressible input.
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}
	return out[:written], nil
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
