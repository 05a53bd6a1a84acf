package blob

import (
	"bytes"
	"context"
	"crypto/md5"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lyzr/minutes/common/apperrors"
	"github.com/lyzr/minutes/common/metadata"
)

// DefaultMemoryBaseURL mimics the storage emulator's account URL.
const DefaultMemoryBaseURL = "http://127.0.0.1:10000/devstoreaccount1"

type memoryObject struct {
	data  []byte
	props Properties
}

// MemoryStore is an in-process Store for local runs and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	baseURL string
	objects map[string]map[string]*memoryObject
	calls   map[string]int
	now     func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(baseURL string) *MemoryStore {
	if baseURL == "" {
		baseURL = DefaultMemoryBaseURL
	}
	return &MemoryStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		objects: make(map[string]map[string]*memoryObject),
		calls:   make(map[string]int),
		now:     time.Now,
	}
}

// SetClock overrides the time source used for LastModified.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Calls returns how often each operation was invoked.
func (m *MemoryStore) Calls() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]int, len(m.calls))
	for k, v := range m.calls {
		out[k] = v
	}
	return out
}

// TotalCalls returns the number of operations invoked so far.
func (m *MemoryStore) TotalCalls() int {
	total := 0
	for _, n := range m.Calls() {
		total += n
	}
	return total
}

func (m *MemoryStore) record(op string) {
	m.calls[op]++
}

func (m *MemoryStore) Put(ctx context.Context, container, name string, body io.Reader, opts PutOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("put")

	bucket, ok := m.objects[container]
	if !ok {
		bucket = make(map[string]*memoryObject)
		m.objects[container] = bucket
	}
	if _, exists := bucket[name]; exists && opts.IfNotExists {
		return fmt.Errorf("%w: %s/%s", ErrAlreadyExists, container, name)
	}

	contentType := opts.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	bucket[name] = &memoryObject{
		data: data,
		props: Properties{
			Container:    container,
			Name:         name,
			ContentType:  contentType,
			Size:         int64(len(data)),
			LastModified: m.now().UTC(),
			ETag:         fmt.Sprintf("\"%x\"", md5.Sum(append([]byte(name), data...))),
			Metadata:     opts.Metadata.Clone(),
		},
	}
	return nil
}

func (m *MemoryStore) lookup(container, name string) (*memoryObject, error) {
	if obj, ok := m.objects[container][name]; ok {
		return obj, nil
	}
	return nil, apperrors.Wrap(apperrors.ErrNotFound, "blob", "", container+"/"+name, nil)
}

func copyProps(p Properties) Properties {
	p.Metadata = p.Metadata.Clone()
	return p
}

func (m *MemoryStore) Open(ctx context.Context, container, name string) (io.ReadCloser, Properties, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("open")

	obj, err := m.lookup(container, name)
	if err != nil {
		return nil, Properties{}, err
	}
	return io.NopCloser(bytes.NewReader(append([]byte(nil), obj.data...))), copyProps(obj.props), nil
}

func (m *MemoryStore) Stat(ctx context.Context, container, name string) (Properties, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("stat")

	obj, err := m.lookup(container, name)
	if err != nil {
		return Properties{}, err
	}
	return copyProps(obj.props), nil
}

func (m *MemoryStore) Exists(ctx context.Context, container, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("exists")

	_, ok := m.objects[container][name]
	return ok, nil
}

func (m *MemoryStore) List(ctx context.Context, container, prefix string) ([]Properties, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("list")

	var out []Properties
	for name, obj := range m.objects[container] {
		if strings.HasPrefix(name, prefix) {
			out = append(out, copyProps(obj.props))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) Delete(ctx context.Context, container, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("delete")

	if _, err := m.lookup(container, name); err != nil {
		return err
	}
	delete(m.objects[container], name)
	return nil
}

func (m *MemoryStore) SetMetadata(ctx context.Context, container, name string, meta metadata.Map) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("set_metadata")

	obj, err := m.lookup(container, name)
	if err != nil {
		return err
	}
	obj.props.Metadata = meta.Clone()
	return nil
}

func (m *MemoryStore) SignBlob(ctx context.Context, container, name string, perms Permissions, ttl time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("sign")
	return m.blobURL(container, name) + "?" + m.signature(perms, ttl), nil
}

func (m *MemoryStore) SignContainer(ctx context.Context, container string, perms Permissions, ttl time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("sign")
	return m.baseURL + "/" + url.PathEscape(container) + "?" + m.signature(perms, ttl), nil
}

func (m *MemoryStore) signature(perms Permissions, ttl time.Duration) string {
	q := url.Values{}
	q.Set("sp", perms.String())
	q.Set("se", m.now().UTC().Add(ttl).Format(time.RFC3339))
	q.Set("sig", "memory")
	return q.Encode()
}

func (m *MemoryStore) URL(container, name string) string {
	return m.blobURL(container, name)
}

func (m *MemoryStore) blobURL(container, name string) string {
	segments := strings.Split(name, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return m.baseURL + "/" + url.PathEscape(container) + "/" + strings.Join(segments, "/")
}
