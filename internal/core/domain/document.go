package domain

import "time"

type DocumentStatus string

const (
	StatusUploaded  DocumentStatus = "uploaded"
	StatusConverted DocumentStatus = "converted"
	StatusParsed    DocumentStatus = "parsed"
	StatusMerged    DocumentStatus = "merged"
	StatusSegmented DocumentStatus = "segmented"
	StatusCompleted DocumentStatus = "completed"

	StatusConvertFailed DocumentStatus = "convert_failed"
	StatusParseFailed   DocumentStatus = "parse_failed"
	StatusMergeFailed   DocumentStatus = "merge_failed"
	StatusSegmentFailed DocumentStatus = "segment_failed"
	StatusPersistFailed DocumentStatus = "persist_failed"
)

// Failed reports whether the status records a failed stage.
func (s DocumentStatus) Failed() bool {
	switch s {
	case StatusConvertFailed, StatusParseFailed, StatusMergeFailed, StatusSegmentFailed, StatusPersistFailed:
		return true
	default:
		return false
	}
}

type Document struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	SourcePath   string         `json:"source_path,omitempty"`
	StoragePath  string         `json:"storage_path"`
	PrincipalIDs []string       `json:"principal_ids"`
	Status       DocumentStatus `json:"status"`
	Error        string         `json:"error,omitempty"`
	SegmentCount int            `json:"segment_count"`
	Deleted      bool           `json:"deleted,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// RegisterDocument is the input of document registration. Elements holds the
// layout parser's JSON element list.
type RegisterDocument struct {
	Name         string   `json:"name" validate:"required"`
	SourcePath   string   `json:"source_path,omitempty"`
	PrincipalIDs []string `json:"principal_ids" validate:"required,min=1,dive,required"`
	Elements     []byte   `json:"-"`
}
