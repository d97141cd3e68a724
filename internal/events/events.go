// Package events defines the notifications published while media is processed
// and their JSON wire envelope.
package events

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/maauso/mediaflow/internal/record"
)

// Wire names of the event variants.
const (
	NameProgress = "processing:update"
	NameDone     = "processing:done"
	NameUploaded = "media:uploaded"
	NameDeleted  = "media:deleted"
)

// ErrUnknownEvent is returned when decoding an envelope with an unknown name.
var ErrUnknownEvent = errors.New("unknown event")

// Event is one of ProgressUpdate, ProcessingDone, MediaUploaded or MediaDeleted.
type Event interface {
	// Name returns the wire name of the event.
	Name() string
	isEvent()
}

// ProgressUpdate reports the latest persisted progress of a run.
type ProgressUpdate struct {
	MediaID  string
	Progress int
}

// ProcessingDone reports the terminal outcome of a run.
type ProcessingDone struct {
	MediaID string
	Outcome Outcome
}

// MediaUploaded announces a new record to its tenant.
type MediaUploaded struct {
	TenantID string
	MediaID  string
}

// MediaDeleted announces a removed record to its tenant.
type MediaDeleted struct {
	TenantID string
	MediaID  string
}

func (ProgressUpdate) Name() string { return NameProgress }
func (ProcessingDone) Name() string { return NameDone }
func (MediaUploaded) Name() string { return NameUploaded }
func (MediaDeleted) Name() string { return NameDeleted }

func (ProgressUpdate) isEvent() {}
func (ProcessingDone) isEvent() {}
func (MediaUploaded) isEvent() {}
func (MediaDeleted) isEvent() {}

// Outcome is either Success or Failure.
type Outcome interface {
	isOutcome()
}

// Success carries the verdict of a classified run.
type Success struct {
	Sensitivity record.Sensitivity
}

// Failure carries a short reason for a failed run.
type Failure struct {
	Reason string
}

func (Success) isOutcome() {}
func (Failure) isOutcome() {}

// MediaTopic is the topic carrying events about one media record.
func MediaTopic(mediaID string) string {
	return "media:" + mediaID
}

// TenantTopic is the topic carrying catalog events for one tenant.
func TenantTopic(tenantID string) string {
	return "tenant:" + tenantID
}

// Envelope is the JSON frame exchanged over the real-time channel.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type progressData struct {
	MediaID  string `json:"mediaId"`
	Progress int    `json:"progress"`
}

// unspecifiedFailure stands in for an empty failure reason on the wire.
const unspecifiedFailure = "unspecified"

type doneData struct {
	MediaID     string `json:"mediaId"`
	Sensitivity string `json:"sensitivity,omitempty"`
	Failure     string `json:"failure,omitempty"`
}

type catalogData struct {
	TenantID string `json:"tenantId"`
	MediaID  string `json:"mediaId"`
}

// Marshal encodes an event into its wire envelope.
func Marshal(e Event) ([]byte, error) {
	var data any
	switch ev := e.(type) {
	case ProgressUpdate:
		data = progressData{MediaID: ev.MediaID, Progress: ev.Progress}
	case ProcessingDone:
		d := doneData{MediaID: ev.MediaID}
		switch o := ev.Outcome.(type) {
		case Success:
			d.Sensitivity = string(o.Sensitivity)
		case Failure:
			d.Failure = o.Reason
			if d.Failure == "" {
				d.Failure = unspecifiedFailure
			}
		default:
			return nil, fmt.Errorf("marshal %s: missing outcome", ev.Name())
		}
		data = d
	case MediaUploaded:
		data = catalogData{TenantID: ev.TenantID, MediaID: ev.MediaID}
	case MediaDeleted:
		data = catalogData{TenantID: ev.TenantID, MediaID: ev.MediaID}
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownEvent, e)
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", e.Name(), err)
	}
	return json.Marshal(Envelope{Event: e.Name(), Data: raw})
}

// Unmarshal decodes a wire envelope back into an event.
func Unmarshal(b []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	switch env.Event {
	case NameProgress:
		var d progressData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		return ProgressUpdate{MediaID: d.MediaID, Progress: d.Progress}, nil
	case NameDone:
		var d doneData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		if d.Failure != "" {
			return ProcessingDone{MediaID: d.MediaID, Outcome: Failure{Reason: d.Failure}}, nil
		}
		if d.Sensitivity == "" {
			return nil, fmt.Errorf("decode %s: missing outcome", env.Event)
		}
		return ProcessingDone{MediaID: d.MediaID, Outcome: Success{Sensitivity: record.Sensitivity(d.Sensitivity)}}, nil
	case NameUploaded, NameDeleted:
		var d catalogData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		if env.Event == NameUploaded {
			return MediaUploaded{TenantID: d.TenantID, MediaID: d.MediaID}, nil
		}
		return MediaDeleted{TenantID: d.TenantID, MediaID: d.MediaID}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
}
