package export

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/query"
	"github.com/askdb/askdb/internal/storage"
)

const (
	SinkLocal       = "local"
	SinkObjectStore = "object_store"

	parquetContentType = "application/vnd.apache.parquet"
)

type Target struct {
	Local  bool
	Upload bool
}

type Output struct {
	ID   string `json:"id"`
	Rows int64  `json:"rows"`
	Size int64  `json:"size_bytes"`
	// Path is set for local exports.
	Path string `json:"path,omitempty"`
	// Key and URL are set for uploads; URL is a presigned download link.
	Key string `json:"key,omitempty"`
	URL string `json:"url,omitempty"`
}

type Exporter struct {
	Dir           string
	Store         storage.ObjectStore
	PresignExpiry time.Duration
	Now           func() time.Time
	NewID         func() string
}

func NewExporter(dir string, store storage.ObjectStore) *Exporter {
	return &Exporter{
		Dir:           dir,
		Store:         store,
		PresignExpiry: 24 * time.Hour,
		Now:           time.Now,
		NewID:         uuid.NewString,
	}
}

func (e *Exporter) Export(ctx context.Context, result query.Result, target Target) (Output, error) {
	if !target.Local && !target.Upload {
		return Output{}, fmt.Errorf("no export target selected")
	}
	if target.Upload && e.Store == nil {
		return Output{}, fmt.Errorf("object store is not configured")
	}

	var buf bytes.Buffer
	rows, err := WriteParquet(&buf, result)
	if err != nil {
		return Output{}, err
	}
	output := Output{ID: e.newID(), Rows: rows, Size: int64(buf.Len())}

	if target.Local {
		output.Path, err = e.writeLocal(output.ID, buf.Bytes())
		observability.ObserveExport(SinkLocal, err)
		if err != nil {
			return output, err
		}
	}
	if target.Upload {
		output.Key, output.URL, err = e.upload(ctx, output.ID, buf.Bytes())
		observability.ObserveExport(SinkObjectStore, err)
		if err != nil {
			return output, err
		}
	}
	return output, nil
}

func (e *Exporter) writeLocal(id string, data []byte) (string, error) {
	dir := e.Dir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir %q: %w", dir, err)
	}
	path := filepath.Join(dir, id+".parquet")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write export %q: %w", path, err)
	}
	return path, nil
}

func (e *Exporter) upload(ctx context.Context, id string, data []byte) (string, string, error) {
	key, err := storage.BuildExportPath(e.now(), id, "parquet")
	if err != nil {
		return "", "", err
	}
	if _, err := e.Store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), storage.PutOptions{ContentType: parquetContentType}); err != nil {
		return key, "", fmt.Errorf("upload export: %w", err)
	}
	info, err := e.Store.Stat(ctx, key)
	if err != nil {
		return key, "", fmt.Errorf("verify export upload: %w", err)
	}
	if info.Size != int64(len(data)) {
		return key, "", fmt.Errorf("verify export upload: stored %d bytes, wrote %d", info.Size, len(data))
	}
	signed, err := e.Store.PresignGet(ctx, key, e.PresignExpiry)
	if err != nil {
		return key, "", fmt.Errorf("presign export: %w", err)
	}
	return key, signed, nil
}

func (e *Exporter) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

func (e *Exporter) newID() string {
	if e.NewID == nil {
		return uuid.NewString()
	}
	return e.NewID()
}
