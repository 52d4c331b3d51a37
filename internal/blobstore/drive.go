package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/dustin/go-humanize"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const csvMimeType = "text/csv"

// Drive stores objects as files inside one Google Drive folder, addressed by name.
// Put updates the existing file in place so its id stays stable for readers.
type Drive struct {
	svc      *drive.Service
	folderID string
}

// NewDrive connects to the Drive API. Credentials come from opts.
func NewDrive(ctx context.Context, folderID string, opts ...option.ClientOption) (*Drive, error) {
	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create drive service: %w", err)
	}
	return &Drive{svc: svc, folderID: folderID}, nil
}

// Name implements Store.
func (d *Drive) Name() string { return "drive:" + d.folderID }

// Get implements Store.
func (d *Drive) Get(ctx context.Context, name string) ([]byte, error) {
	id, err := d.lookup(ctx, name)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}

	resp, err := d.svc.Files.Get(id).Context(ctx).Download()
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", name, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return data, nil
}

// Put implements Store.
func (d *Drive) Put(ctx context.Context, name string, data []byte) error {
	id, err := d.lookup(ctx, name)
	if err != nil {
		return err
	}
	media := googleapi.ContentType(csvMimeType)

	if id != "" {
		_, err = d.svc.Files.Update(id, &drive.File{}).Media(bytes.NewReader(data), media).Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("failed to update %s: %w", name, err)
		}
		slog.Info("updated drive file", "name", name, "id", id, "size", humanize.Bytes(uint64(len(data))))
		return nil
	}

	meta := &drive.File{Name: name, MimeType: csvMimeType}
	if d.folderID != "" {
		meta.Parents = []string{d.folderID}
	}
	created, err := d.svc.Files.Create(meta).Media(bytes.NewReader(data), media).Fields("id").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", name, err)
	}
	slog.Info("created drive file", "name", name, "id", created.Id, "size", humanize.Bytes(uint64(len(data))))
	return nil
}

// lookup returns the id of the first non-trashed file called name, or "" when there is none.
func (d *Drive) lookup(ctx context.Context, name string) (string, error) {
	q := fmt.Sprintf("name = '%s' and trashed = false", escapeQuery(name))
	if d.folderID != "" {
		q += fmt.Sprintf(" and '%s' in parents", escapeQuery(d.folderID))
	}
	list, err := d.svc.Files.List().Q(q).Fields("files(id, name)").PageSize(1).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to search drive for %s: %w", name, err)
	}
	if len(list.Files) == 0 {
		return "", nil
	}
	return list.Files[0].Id, nil
}

func escapeQuery(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}
