// Package events decodes storage notifications delivered by Event Grid,
// either pushed over HTTP or relayed through a queue.
package events

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lyzr/minutes/common/apperrors"
	"github.com/lyzr/minutes/common/naming"
)

const (
	TypeSubscriptionValidation = "Microsoft.EventGrid.SubscriptionValidationEvent"
	TypeBlobCreated            = "Microsoft.Storage.BlobCreated"
)

// Event is an Event Grid event. CloudEvents fields are folded into the same
// struct so either schema can be subscribed.
type Event struct {
	ID          string          `json:"id"`
	Topic       string          `json:"topic,omitempty"`
	Subject     string          `json:"subject"`
	EventType   string          `json:"eventType,omitempty"`
	Type        string          `json:"type,omitempty"`
	EventTime   string          `json:"eventTime,omitempty"`
	Data        json.RawMessage `json:"data"`
	DataVersion string          `json:"dataVersion,omitempty"`
	// URL is set by producers that enqueue {"url": ...} instead of an event.
	URL string `json:"url,omitempty"`
}

// Kind returns the event type regardless of schema.
func (e Event) Kind() string {
	if e.EventType != "" {
		return e.EventType
	}
	return e.Type
}

// IsValidation reports whether this is the subscription handshake.
func (e Event) IsValidation() bool {
	return e.Kind() == TypeSubscriptionValidation
}

// IsBlobCreated reports whether this event announces a new blob.
func (e Event) IsBlobCreated() bool {
	return e.Kind() == TypeBlobCreated
}

// ValidationData is the payload of the subscription handshake.
type ValidationData struct {
	ValidationCode string `json:"validationCode"`
	ValidationURL  string `json:"validationUrl,omitempty"`
}

// ValidationResponse is the exact body Event Grid expects back.
type ValidationResponse struct {
	ValidationResponse string `json:"validationResponse"`
}

// BlobCreatedData is the payload of a BlobCreated event.
type BlobCreatedData struct {
	API           string `json:"api,omitempty"`
	ContentType   string `json:"contentType,omitempty"`
	ContentLength int64  `json:"contentLength,omitempty"`
	BlobType      string `json:"blobType,omitempty"`
	URL           string `json:"url"`
	ETag          string `json:"eTag,omitempty"`
}

// BlobRef identifies the blob an event is about.
type BlobRef struct {
	Container string
	Name      string
	URL       string
	ETag      string
}

// ValidationCode returns the handshake code.
func (e Event) ValidationCode() (string, error) {
	var d ValidationData
	if err := json.Unmarshal(e.Data, &d); err != nil || d.ValidationCode == "" {
		return "", apperrors.Wrap(apperrors.ErrValidation, "events", "validation", "missing validationCode", err)
	}
	return d.ValidationCode, nil
}

// Blob resolves the container and name of a BlobCreated event from its data
// url, falling back to the subject.
func (e Event) Blob() (BlobRef, error) {
	var d BlobCreatedData
	if len(e.Data) > 0 {
		if err := json.Unmarshal(e.Data, &d); err != nil {
			return BlobRef{}, apperrors.Wrap(apperrors.ErrMalformedReference, "events", "blob", "unreadable data", err)
		}
	}

	if d.URL != "" {
		container, name, err := naming.SplitURL(d.URL)
		if err == nil {
			return BlobRef{Container: container, Name: name, URL: d.URL, ETag: d.ETag}, nil
		}
		if container, name, ok := naming.SplitSubject(e.Subject); ok {
			return BlobRef{Container: container, Name: name, URL: d.URL, ETag: d.ETag}, nil
		}
		return BlobRef{}, err
	}

	if container, name, ok := naming.SplitSubject(e.Subject); ok {
		return BlobRef{Container: container, Name: name, ETag: d.ETag}, nil
	}
	if e.URL != "" {
		container, name, err := naming.SplitURL(e.URL)
		if err != nil {
			return BlobRef{}, err
		}
		return BlobRef{Container: container, Name: name, URL: e.URL, ETag: d.ETag}, nil
	}
	return BlobRef{}, apperrors.Wrap(apperrors.ErrMalformedReference, "events", "blob",
		fmt.Sprintf("event %s carries no blob reference", e.ID), nil)
}

// FindValidation returns the handshake code when the batch contains a validation event.
func FindValidation(batch []Event) (string, bool, error) {
	for _, e := range batch {
		if e.IsValidation() {
			code, err := e.ValidationCode()
			return code, true, err
		}
	}
	return "", false, nil
}

// Decode parses a notification body. It accepts a JSON array of events, a
// single event object, a {"url": ...} object, a bare or JSON-quoted blob URL,
// or any of those base64 encoded (queue relays encode messages).
func Decode(raw []byte) ([]Event, error) {
	return decode(raw, true)
}

func decode(raw []byte, allowBase64 bool) ([]Event, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, apperrors.Wrap(apperrors.ErrValidation, "events", "decode", "empty message", nil)
	}

	switch trimmed[0] {
	case '[':
		var batch []Event
		if err := json.Unmarshal(trimmed, &batch); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrValidation, "events", "decode", "invalid event array", err)
		}
		return batch, nil
	case '{':
		var e Event
		if err := json.Unmarshal(trimmed, &e); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrValidation, "events", "decode", "invalid event", err)
		}
		if e.Kind() == "" && e.URL != "" {
			return []Event{NewBlobCreated(e.URL, "")}, nil
		}
		return []Event{e}, nil
	case '"':
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrValidation, "events", "decode", "invalid json string", err)
		}
		return decode([]byte(text), allowBase64)
	}

	text := string(trimmed)
	if strings.HasPrefix(text, "http://") || strings.HasPrefix(text, "https://") {
		return []Event{NewBlobCreated(text, "")}, nil
	}

	if allowBase64 {
		if decoded, err := base64.StdEncoding.DecodeString(text); err == nil {
			return decode(decoded, false)
		}
	}
	return nil, apperrors.Wrap(apperrors.ErrValidation, "events", "decode", "unrecognized message format", nil)
}

// NewBlobCreated synthesizes a BlobCreated event for a blob URL.
func NewBlobCreated(blobURL, etag string) Event {
	data, _ := json.Marshal(BlobCreatedData{API: "PutBlob", BlobType: "BlockBlob", URL: blobURL, ETag: etag})
	subject := ""
	if container, name, err := naming.SplitURL(blobURL); err == nil {
		subject = "/blobServices/default/containers/" + container + "/blobs/" + name
	}
	return Event{
		ID:          uuid.NewString(),
		Subject:     subject,
		EventType:   TypeBlobCreated,
		EventTime:   time.Now().UTC().Format(time.RFC3339Nano),
		Data:        data,
		DataVersion: "1.0",
	}
}
