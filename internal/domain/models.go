package domain

import (
	"time"
)

type Status string

const (
	StatusInitial    Status = "initial"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

func (s Status) Valid() bool {
	switch s {
	case StatusInitial, StatusProcessing, StatusCompleted, StatusError:
		return true
	}
	return false
}

// ImageRecord is a value type. Payload slices are shared between copies and
// must never be written to after the record is created.
type ImageRecord struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	OriginalImage       []byte    `json:"-"`
	OriginalContentType string    `json:"original_content_type"`
	FilteredImage       []byte    `json:"-"`
	FilteredContentType string    `json:"filtered_content_type,omitempty"`
	Status              Status    `json:"status"`
	LastError           string    `json:"last_error,omitempty"`
	Timestamp           time.Time `json:"timestamp"`
}

func (r ImageRecord) HasFiltered() bool {
	return len(r.FilteredImage) > 0
}

// Validate checks the filtered-iff-completed invariant.
func (r ImageRecord) Validate() error {
	if !r.Status.Valid() {
		return ErrInvalidUpdate
	}
	if (r.Status == StatusCompleted) != r.HasFiltered() {
		return ErrInvalidUpdate
	}
	if r.Status != StatusError && r.LastError != "" {
		return ErrInvalidUpdate
	}
	return nil
}

// DownloadName is the file name a filtered payload is exported under.
func (r ImageRecord) DownloadName() string {
	if r.Name == "" {
		return "filtered-image.png"
	}
	return "filtered-" + r.Name
}

// RecordUpdate carries the mutable fields of an ImageRecord. Nil fields are
// left untouched.
type RecordUpdate struct {
	Status              *Status
	FilteredImage       []byte
	FilteredContentType string
	ClearFiltered       bool
	LastError           *string
}

// Apply returns a copy of r with u applied; r itself is not modified.
func (u RecordUpdate) Apply(r ImageRecord) ImageRecord {
	if u.Status != nil {
		r.Status = *u.Status
	}
	if u.ClearFiltered {
		r.FilteredImage = nil
		r.FilteredContentType = ""
	}
	if u.FilteredImage != nil {
		r.FilteredImage = u.FilteredImage
		r.FilteredContentType = u.FilteredContentType
	}
	if u.LastError != nil {
		r.LastError = *u.LastError
	}
	return r
}

func StatusPtr(s Status) *Status {
	return &s
}

func StringPtr(s string) *string {
	return &s
}

type UploadRequest struct {
	Name        string
	ContentType string
	Size        int64
	Data        []byte
}

type PaymentReceipt struct {
	RecordID  string `json:"record_id"`
	SessionID string `json:"session_id"`
	URL       string `json:"url,omitempty"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
}

type ExportResult struct {
	RecordID string `json:"record_id"`
	Key      string `json:"key"`
	Size     int64  `json:"size"`
}

type Download struct {
	Name        string
	ContentType string
	Data        []byte
}

// TransformOutcome is delivered once per transform attempt. Record holds the
// last known state of the record even when Err is set.
type TransformOutcome struct {
	Record ImageRecord
	Err    error
}
