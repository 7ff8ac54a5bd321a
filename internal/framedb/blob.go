package framedb

import (
	"bytes"
	"compress/gzip"
	"encoding/gob"
	"fmt"

	"github.com/banshee-data/lidarsweep/internal/frames"
)

// encodePoints compresses frame points using gob encoding and gzip compression.
func encodePoints(points []frames.Point) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := gob.NewEncoder(gz)
	if err := enc.Encode(points); err != nil {
		gz.Close()
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodePoints decompresses and decodes frame points from a gob+gzip blob.
func decodePoints(blob []byte) ([]frames.Point, error) {
	if len(blob) == 0 {
		return nil, fmt.Errorf("empty points blob")
	}
	gz, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gz.Close()

	var points []frames.Point
	if err := gob.NewDecoder(gz).Decode(&points); err != nil {
		return nil, fmt.Errorf("failed to decode points: %w", err)
	}
	return points, nil
}
