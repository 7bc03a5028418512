package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

const archiveBatch = 500

// Archive writes every record matching filter to w as zstd-compressed JSON
// lines, oldest page last, and returns how many were written. filter.Limit
// and filter.Offset are ignored.
func Archive(ctx context.Context, repo RecordRepo, filter ListFilter, w io.Writer) (int, error) {
	enc, err := zstd.NewWriter(w)
	if err != nil {
		return 0, fmt.Errorf("create archive encoder: %w", err)
	}

	written := 0
	jsonEnc := json.NewEncoder(enc)
	filter.Limit = archiveBatch
	for offset := 0; ; offset += archiveBatch {
		filter.Offset = offset
		page, err := repo.List(ctx, filter)
		if err != nil {
			enc.Close()
			return written, storageError("archive list", err)
		}
		for _, rec := range page {
			if err := jsonEnc.Encode(rec); err != nil {
				enc.Close()
				return written, fmt.Errorf("archive write: %w", err)
			}
			written++
		}
		if len(page) < archiveBatch {
			break
		}
	}

	if err := enc.Close(); err != nil {
		return written, fmt.Errorf("close archive: %w", err)
	}
	return written, nil
}

// ReadArchive decodes a stream written by Archive.
func ReadArchive(r io.Reader) ([]*LogRecord, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer dec.Close()

	var out []*LogRecord
	jsonDec := json.NewDecoder(dec)
	for {
		var rec LogRecord
		if err := jsonDec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return out, fmt.Errorf("read archive: %w", err)
		}
		out = append(out, &rec)
	}
}
