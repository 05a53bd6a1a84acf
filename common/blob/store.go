// Package blob abstracts the object store that holds every pipeline artifact.
package blob

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/lyzr/minutes/common/metadata"
)

// ErrAlreadyExists is returned by Put when IfNotExists is set and the blob exists.
var ErrAlreadyExists = errors.New("blob already exists")

// Properties describes a stored blob.
type Properties struct {
	Container    string
	Name         string
	ContentType  string
	Size         int64
	LastModified time.Time
	ETag         string
	Metadata     metadata.Map
}

// PutOptions controls a single upload. Metadata is written in the same call
// as the content so readers never observe a blob without it.
type PutOptions struct {
	ContentType string
	Metadata    metadata.Map
	IfNotExists bool
}

// Permissions selects the rights granted by a signed URL.
type Permissions struct {
	Read   bool
	Write  bool
	Create bool
	List   bool
}

func (p Permissions) String() string {
	var b strings.Builder
	if p.Read {
		b.WriteByte('r')
	}
	if p.Create {
		b.WriteByte('c')
	}
	if p.Write {
		b.WriteByte('w')
	}
	if p.List {
		b.WriteByte('l')
	}
	return b.String()
}

// Store is the storage surface used by every stage.
type Store interface {
	Put(ctx context.Context, container, name string, body io.Reader, opts PutOptions) error
	Open(ctx context.Context, container, name string) (io.ReadCloser, Properties, error)
	Stat(ctx context.Context, container, name string) (Properties, error)
	Exists(ctx context.Context, container, name string) (bool, error)
	List(ctx context.Context, container, prefix string) ([]Properties, error)
	Delete(ctx context.Context, container, name string) error
	SetMetadata(ctx context.Context, container, name string, meta metadata.Map) error
	SignBlob(ctx context.Context, container, name string, perms Permissions, ttl time.Duration) (string, error)
	SignContainer(ctx context.Context, container string, perms Permissions, ttl time.Duration) (string, error)
	URL(container, name string) string
}

// ReadAll downloads a whole blob into memory.
func ReadAll(ctx context.Context, s Store, container, name string) ([]byte, Properties, error) {
	rc, props, err := s.Open(ctx, container, name)
	if err != nil {
		return nil, props, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, props, err
	}
	return data, props, nil
}
