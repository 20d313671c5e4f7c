package snapshot

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"

	"github.com/teacurran/WireTuner-sub012/internal/document"
	"github.com/teacurran/WireTuner-sub012/internal/storage"
)

// DecodeState decompresses a snapshot and validates it against its size
// hint, returning the raw state JSON.
func DecodeState(snap storage.Snapshot) ([]byte, error) {
	if snap.CompressionKind != CompressionGzip {
		return nil, fmt.Errorf("unsupported compression kind %q", snap.CompressionKind)
	}
	gzr, err := gzip.NewReader(bytes.NewReader(snap.CompressedState))
	if err != nil {
		return nil, fmt.Errorf("open snapshot stream: %w", err)
	}
	data, err := io.ReadAll(gzr)
	if err != nil {
		return nil, fmt.Errorf("decompress snapshot: %w", err)
	}
	if err := gzr.Close(); err != nil {
		return nil, fmt.Errorf("decompress snapshot: %w", err)
	}
	if int64(len(data)) != snap.UncompressedSize {
		return nil, fmt.Errorf("snapshot size mismatch: got %d bytes, hint says %d", len(data), snap.UncompressedSize)
	}
	return data, nil
}

// Decode reconstructs the document state a snapshot materializes.
func Decode(snap storage.Snapshot) (document.Document, error) {
	data, err := DecodeState(snap)
	if err != nil {
		return document.Document{}, err
	}
	var state document.Document
	if err := json.Unmarshal(data, &state); err != nil {
		return document.Document{}, fmt.Errorf("decode snapshot state: %w", err)
	}
	if state.Objects == nil {
		state.Objects = make(map[string]document.Object)
	}
	if state.Order == nil {
		state.Order = []string{}
	}
	return state, nil
}
