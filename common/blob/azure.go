package blob

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	azblobblob "github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/sas"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/service"

	"github.com/lyzr/minutes/common/apperrors"
	"github.com/lyzr/minutes/common/config"
	"github.com/lyzr/minutes/common/logger"
	"github.com/lyzr/minutes/common/metadata"
)

const (
	delegationKeyLifetime = 48 * time.Hour
	clockSkew             = 5 * time.Minute
)

// AzureStore is a Store backed by Azure Blob Storage. With a connection string
// SAS URLs are signed with the account key; with an account URL the store
// authenticates through DefaultAzureCredential and signs with a user
// delegation key.
type AzureStore struct {
	client        *azblob.Client
	useDelegation bool
	log           *logger.Logger

	mu            sync.Mutex
	delegation    *service.UserDelegationCredential
	delegationEnd time.Time
}

// NewAzureStore creates a store from storage configuration.
func NewAzureStore(cfg config.StorageConfig, log *logger.Logger) (*AzureStore, error) {
	if cfg.ConnectionString != "" {
		client, err := azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrConfiguration, "blob", "connect", "invalid connection string", err)
		}
		return &AzureStore{client: client, log: log}, nil
	}

	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrConfiguration, "blob", "connect", "default credential", err)
	}
	client, err := azblob.NewClient(cfg.AccountURL, cred, nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrConfiguration, "blob", "connect", cfg.AccountURL, err)
	}
	return &AzureStore{client: client, useDelegation: true, log: log}, nil
}

// EnsureContainers creates any missing containers. Used in development against the emulator.
func (s *AzureStore) EnsureContainers(ctx context.Context, names ...string) error {
	for _, name := range names {
		_, err := s.client.CreateContainer(ctx, name, nil)
		if err != nil && !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
			return apperrors.Wrap(nil, "blob", "create container", name, err)
		}
	}
	return nil
}

func (s *AzureStore) blobClient(container, name string) *azblobblob.Client {
	return s.client.ServiceClient().NewContainerClient(container).NewBlobClient(name)
}

func (s *AzureStore) Put(ctx context.Context, container, name string, body io.Reader, opts PutOptions) error {
	upload := &azblob.UploadStreamOptions{
		Metadata: metadata.ToPointers(opts.Metadata),
	}
	if opts.ContentType != "" {
		upload.HTTPHeaders = &azblobblob.HTTPHeaders{BlobContentType: to.Ptr(opts.ContentType)}
	}
	if opts.IfNotExists {
		upload.AccessConditions = &azblobblob.AccessConditions{
			ModifiedAccessConditions: &azblobblob.ModifiedAccessConditions{IfNoneMatch: to.Ptr(azcore.ETagAny)},
		}
	}

	if _, err := s.client.UploadStream(ctx, container, name, body, upload); err != nil {
		if bloberror.HasCode(err, bloberror.BlobAlreadyExists, bloberror.ConditionNotMet) {
			return errors.Join(ErrAlreadyExists, err)
		}
		return s.wrap("put", container, name, err)
	}
	return nil
}

func (s *AzureStore) Open(ctx context.Context, container, name string) (io.ReadCloser, Properties, error) {
	resp, err := s.client.DownloadStream(ctx, container, name, nil)
	if err != nil {
		return nil, Properties{}, s.wrap("open", container, name, err)
	}
	props := Properties{
		Container:    container,
		Name:         name,
		ContentType:  deref(resp.ContentType),
		Size:         derefInt(resp.ContentLength),
		LastModified: derefTime(resp.LastModified),
		Metadata:     metadata.Normalize(resp.Metadata),
	}
	if resp.ETag != nil {
		props.ETag = string(*resp.ETag)
	}
	return resp.Body, props, nil
}

func (s *AzureStore) Stat(ctx context.Context, container, name string) (Properties, error) {
	resp, err := s.blobClient(container, name).GetProperties(ctx, nil)
	if err != nil {
		return Properties{}, s.wrap("stat", container, name, err)
	}
	props := Properties{
		Container:    container,
		Name:         name,
		ContentType:  deref(resp.ContentType),
		Size:         derefInt(resp.ContentLength),
		LastModified: derefTime(resp.LastModified),
		Metadata:     metadata.Normalize(resp.Metadata),
	}
	if resp.ETag != nil {
		props.ETag = string(*resp.ETag)
	}
	return props, nil
}

func (s *AzureStore) Exists(ctx context.Context, container, name string) (bool, error) {
	_, err := s.Stat(ctx, container, name)
	if errors.Is(err, apperrors.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *AzureStore) List(ctx context.Context, container, prefix string) ([]Properties, error) {
	opts := &azblob.ListBlobsFlatOptions{
		Include: azblob.ListBlobsInclude{Metadata: true},
	}
	if prefix != "" {
		opts.Prefix = to.Ptr(prefix)
	}

	var out []Properties
	pager := s.client.NewListBlobsFlatPager(container, opts)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, s.wrap("list", container, prefix, err)
		}
		for _, item := range page.Segment.BlobItems {
			if item == nil || item.Name == nil {
				continue
			}
			props := Properties{
				Container: container,
				Name:      *item.Name,
				Metadata:  metadata.Normalize(item.Metadata),
			}
			if p := item.Properties; p != nil {
				props.ContentType = deref(p.ContentType)
				props.Size = derefInt(p.ContentLength)
				props.LastModified = derefTime(p.LastModified)
				if p.ETag != nil {
					props.ETag = string(*p.ETag)
				}
			}
			out = append(out, props)
		}
	}
	return out, nil
}

func (s *AzureStore) Delete(ctx context.Context, container, name string) error {
	if _, err := s.client.DeleteBlob(ctx, container, name, nil); err != nil {
		return s.wrap("delete", container, name, err)
	}
	return nil
}

func (s *AzureStore) SetMetadata(ctx context.Context, container, name string, meta metadata.Map) error {
	if _, err := s.blobClient(container, name).SetMetadata(ctx, metadata.ToPointers(meta), nil); err != nil {
		return s.wrap("set metadata", container, name, err)
	}
	return nil
}

func (s *AzureStore) SignBlob(ctx context.Context, container, name string, perms Permissions, ttl time.Duration) (string, error) {
	expiry := time.Now().UTC().Add(ttl)
	bc := s.blobClient(container, name)

	blobPerms := sas.BlobPermissions{Read: perms.Read, Write: perms.Write, Create: perms.Create, List: perms.List}
	if !s.useDelegation {
		u, err := bc.GetSASURL(blobPerms, expiry, nil)
		if err != nil {
			return "", apperrors.Wrap(apperrors.ErrConfiguration, "blob", "sign", container+"/"+name, err)
		}
		return u, nil
	}

	cred, err := s.delegationCredential(ctx, expiry)
	if err != nil {
		return "", err
	}
	qp, err := sas.BlobSignatureValues{
		Protocol:      sas.ProtocolHTTPS,
		StartTime:     time.Now().UTC().Add(-clockSkew),
		ExpiryTime:    expiry,
		Permissions:   blobPerms.String(),
		ContainerName: container,
		BlobName:      name,
	}.SignWithUserDelegation(cred)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrConfiguration, "blob", "sign", container+"/"+name, err)
	}
	return bc.URL() + "?" + qp.Encode(), nil
}

func (s *AzureStore) SignContainer(ctx context.Context, container string, perms Permissions, ttl time.Duration) (string, error) {
	expiry := time.Now().UTC().Add(ttl)
	cc := s.client.ServiceClient().NewContainerClient(container)

	containerPerms := sas.ContainerPermissions{Read: perms.Read, Write: perms.Write, Create: perms.Create, List: perms.List}
	if !s.useDelegation {
		u, err := cc.GetSASURL(containerPerms, expiry, nil)
		if err != nil {
			return "", apperrors.Wrap(apperrors.ErrConfiguration, "blob", "sign", container, err)
		}
		return u, nil
	}

	cred, err := s.delegationCredential(ctx, expiry)
	if err != nil {
		return "", err
	}
	qp, err := sas.BlobSignatureValues{
		Protocol:      sas.ProtocolHTTPS,
		StartTime:     time.Now().UTC().Add(-clockSkew),
		ExpiryTime:    expiry,
		Permissions:   containerPerms.String(),
		ContainerName: container,
	}.SignWithUserDelegation(cred)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrConfiguration, "blob", "sign", container, err)
	}
	return cc.URL() + "?" + qp.Encode(), nil
}

// delegationCredential returns a cached user delegation key valid past expiry.
func (s *AzureStore) delegationCredential(ctx context.Context, expiry time.Time) (*service.UserDelegationCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.delegation != nil && s.delegationEnd.After(expiry) {
		return s.delegation, nil
	}

	start := time.Now().UTC().Add(-clockSkew)
	end := time.Now().UTC().Add(delegationKeyLifetime)
	cred, err := s.client.ServiceClient().GetUserDelegationCredential(ctx, service.KeyInfo{
		Start:  to.Ptr(start.Format(sas.TimeFormat)),
		Expiry: to.Ptr(end.Format(sas.TimeFormat)),
	}, nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrConfiguration, "blob", "sign", "user delegation key", err)
	}
	s.delegation = cred
	s.delegationEnd = end
	s.log.Debug("refreshed user delegation key", "expires", end)
	return cred, nil
}

func (s *AzureStore) URL(container, name string) string {
	return s.blobClient(container, name).URL()
}

func (s *AzureStore) wrap(op, container, name string, err error) error {
	ref := container + "/" + name
	if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound, bloberror.ResourceNotFound) {
		return apperrors.Wrap(apperrors.ErrNotFound, "blob", op, ref, err)
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
		return apperrors.Wrap(apperrors.ErrNotFound, "blob", op, ref, err)
	}
	return apperrors.Wrap(nil, "blob", op, ref, err)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefInt(n *int64) int64 {
	if n == nil {
		return 0
	}
	return *n
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}
