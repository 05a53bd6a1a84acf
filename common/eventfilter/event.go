package eventfilter

import (
	"encoding/json"

	"github.com/lyzr/minutes/common/apperrors"
	"github.com/lyzr/minutes/common/events"
)

// AdmitEvent evaluates f for a BlobCreated event whose blob was resolved to
// name inside container. A nil filter admits everything; evaluation failures
// are configuration errors.
func AdmitEvent(f *Filter, ev events.Event, container, name string) (bool, error) {
	if f == nil {
		return true, nil
	}
	var data events.BlobCreatedData
	_ = json.Unmarshal(ev.Data, &data)
	ok, err := f.Admit(Input{
		Container:   container,
		Name:        name,
		EventType:   ev.Kind(),
		Subject:     ev.Subject,
		ContentType: data.ContentType,
		Size:        data.ContentLength,
	})
	if err != nil {
		return false, apperrors.Wrap(apperrors.ErrConfiguration, "filter", "admit", f.Expression(), err)
	}
	return ok, nil
}
