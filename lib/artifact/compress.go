// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import (
	"errors"
	"fmt"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionTag identifies the codec of a stored object. Values are
// written to object headers and must not change.
type CompressionTag uint8

const (
	CompressionNone CompressionTag = 0
	CompressionLZ4  CompressionTag = 1
	CompressionZstd CompressionTag = 2
)

// String returns the codec name.
func (tag CompressionTag) String() string {
	switch tag {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", tag)
	}
}

// errIncompressible means compressed output was not smaller than the
// input. Callers store the object uncompressed.
var errIncompressible = errors.New("data is incompressible")

// zstd.Encoder and zstd.Decoder are safe for concurrent use with
// EncodeAll and DecodeAll.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("artifact: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("artifact: zstd decoder initialization failed: " + err.Error())
	}
}

// textContentTypes skip the compression probe.
var textContentTypes = map[string]bool{
	"text/plain":           true,
	"text/html":            true,
	"text/css":             true,
	"text/csv":             true,
	"text/xml":             true,
	"text/markdown":        true,
	"text/javascript":      true,
	"application/json":     true,
	"application/x-ndjson": true,
	"application/xml":      true,
	"application/yaml":     true,
}

// alreadyCompressed content types are stored as-is.
var alreadyCompressed = map[string]bool{
	"application/gzip":    true,
	"application/zip":     true,
	"application/x-xz":    true,
	"application/x-bzip2": true,
	"application/zstd":    true,
	"image/png":           true,
	"image/jpeg":          true,
	"video/mp4":           true,
}

// probeSize bounds how much content SelectCompression compresses to
// estimate the ratio.
const probeSize = 64 * 1024

// SelectCompression picks a codec from contentType, or by probing
// zstd on a prefix of data when the type is unknown. Ratios of 1.5x
// or better select zstd, 1.1x or better LZ4, anything else none.
func SelectCompression(data []byte, contentType string) CompressionTag {
	mediaType, _, _ := strings.Cut(contentType, ";")
	mediaType = strings.TrimSpace(mediaType)
	switch {
	case textContentTypes[mediaType]:
		return CompressionZstd
	case alreadyCompressed[mediaType]:
		return CompressionNone
	}

	if len(data) == 0 {
		return CompressionNone
	}
	probe := data
	if len(probe) > probeSize {
		probe = probe[:probeSize]
	}
	compressed := zstdEncoder.EncodeAll(probe, nil)
	ratio := float64(len(probe)) / float64(len(compressed))
	switch {
	case ratio >= 1.5:
		return CompressionZstd
	case ratio >= 1.1:
		return CompressionLZ4
	default:
		return CompressionNone
	}
}

// Compress compresses data with the codec chosen by
// SelectCompression, falling back to CompressionNone when the result
// would not be smaller.
func Compress(data []byte, contentType string) ([]byte, CompressionTag, error) {
	tag := SelectCompression(data, contentType)
	var (
		compressed []byte
		err        error
	)
	switch tag {
	case CompressionNone:
		return data, CompressionNone, nil
	case CompressionLZ4:
		compressed, err = compressLZ4(data)
	case CompressionZstd:
		compressed, err = compressZstd(data)
	}
	if errors.Is(err, errIncompressible) {
		return data, CompressionNone, nil
	}
	if err != nil {
		return nil, 0, err
	}
	return compressed, tag, nil
}

// Decompress reverses Compress. uncompressedSize must match the
// original length exactly.
func Decompress(compressed []byte, tag CompressionTag, uncompressedSize int) ([]byte, error) {
	switch tag {
	case CompressionNone:
		if len(compressed) != uncompressedSize {
			return nil, fmt.Errorf("uncompressed object: size %d does not match expected %d", len(compressed), uncompressedSize)
		}
		return compressed, nil
	case CompressionLZ4:
		destination := make([]byte, uncompressedSize)
		read, err := lz4.UncompressBlock(compressed, destination)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if read != uncompressedSize {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, uncompressedSize)
		}
		return destination, nil
	case CompressionZstd:
		result, err := zstdDecoder.DecodeAll(compressed, make([]byte, 0, uncompressedSize))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(result) != uncompressedSize {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(result), uncompressedSize)
		}
		return result, nil
	default:
		return nil, fmt.Errorf("unsupported compression tag: %d", tag)
	}
}

func compressLZ4(data []byte) ([]byte, error) {
	destination := make([]byte, lz4.CompressBlockBound(len(data)))
	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	// CompressBlock returns 0 for incompressible input.
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}
	return destination[:written], nil
}

func compressZstd(data []byte) ([]byte, error) {
	compressed := zstdEncoder.EncodeAll(data, nil)
	if len(compressed) >= len(data) {
		return nil, errIncompressible
	}
	return compressed, nil
}
