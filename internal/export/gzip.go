package export

import (
	"bytes"
	"compress/gzip"
	"fmt"
)

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gzw := gzip.NewWriter(&buf)
	if _, err := gzw.Write(data); err != nil {
		return nil, fmt.Errorf("compress bundle snapshot: %w", err)
	}
	if err := gzw.Close(); err != nil {
		return nil, fmt.Errorf("compress bundle snapshot: %w", err)
	}
	return buf.Bytes(), nil
}
