package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"
	"github.com/viant/memlease/model/protocol"
)

// Exporter writes snapshots as JSON documents under a base URL on any
// afs-supported storage.
type Exporter struct {
	fs      afs.Service
	baseURL string
}

func NewExporter(fs afs.Service, baseURL string) *Exporter {
	if fs == nil {
		fs = afs.New()
	}
	return &Exporter{fs: fs, baseURL: url.Normalize(baseURL, file.Scheme)}
}

// Export writes snapshot to a file named after its creation time and to
// latest.json, returning the timestamped URL.
func (e *Exporter) Export(ctx context.Context, snapshot *protocol.Snapshot) (string, error) {
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode snapshot: %w", err)
	}
	URL := url.Join(e.baseURL, fmt.Sprintf("snapshot-%s.json", snapshot.CreatedAt.UTC().Format("20060102T150405.000000000")))
	for _, target := range []string{URL, url.Join(e.baseURL, "latest.json")} {
		if err = e.fs.Upload(ctx, target, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
			return "", fmt.Errorf("failed to upload snapshot %s: %w", target, err)
		}
	}
	return URL, nil
}

// Load reads a snapshot exported earlier.
func Load(ctx context.Context, fs afs.Service, URL string) (*protocol.Snapshot, error) {
	if fs == nil {
		fs = afs.New()
	}
	data, err := fs.DownloadWithURL(ctx, url.Normalize(URL, file.Scheme))
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %s: %w", URL, err)
	}
	ret := &protocol.Snapshot{}
	if err = json.Unmarshal(data, ret); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s: %w", URL, err)
	}
	return ret, nil
}
