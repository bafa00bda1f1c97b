package models

import (
	"encoding/json"
	"time"
)

// These structs define the JSON payloads exchanged with the admin backend
// and the render ledger records persisted in Firestore.

// RenderStatus is the lifecycle of one rasterization job.
type RenderStatus string

const (
	StatusValidating RenderStatus = "VALIDATING"
	StatusRendering  RenderStatus = "RENDERING"
	StatusReady      RenderStatus = "READY"
	StatusFailed     RenderStatus = "FAILED"
	// StatusPurged marks a revision whose pages were deleted after a newer
	// revision of the same document became ready.
	StatusPurged RenderStatus = "PURGED"
)

// RenderRecord tracks the conversion of one document revision, keyed by the
// document key and deduplicated by content hash.
type RenderRecord struct {
	DocumentKey  string       `firestore:"documentKey" json:"documentKey"`
	DocumentID   string       `firestore:"documentId" json:"documentId"`
	FileHash     string       `firestore:"fileHash" json:"fileHash"`
	Status       RenderStatus `firestore:"status" json:"status"`
	ErrorDetails string       `firestore:"errorDetails,omitempty" json:"errorDetails,omitempty"`
	PageCount    int          `firestore:"pageCount,omitempty" json:"pageCount,omitempty"`
	PageURLs     []string     `firestore:"pageUrls,omitempty" json:"pageUrls,omitempty"`
	CreatedAt    time.Time    `firestore:"createdAt" json:"createdAt"`
}

// CheckPagesRequest is the body of POST /api/check-plasa-pages.
type CheckPagesRequest struct {
	TotalPages int    `json:"totalPages"`
	DocumentID string `json:"documentId"`
}

// CheckPagesResponse is the reply of POST /api/check-plasa-pages.
type CheckPagesResponse struct {
	Success       bool     `json:"success"`
	AllPagesExist bool     `json:"allPagesExist"`
	PageURLs      []string `json:"pageUrls"`
}

// CheckImageResponse is the reply of GET /api/check-escala-image/:documentId.
type CheckImageResponse struct {
	Exists   bool   `json:"exists"`
	URL      string `json:"url"`
	ImageURL string `json:"imageUrl"`
}

// Location returns whichever image field the backend filled in.
func (r CheckImageResponse) Location() string {
	if r.URL != "" {
		return r.URL
	}
	return r.ImageURL
}

// UploadResponse accepts both `{data:{url}}` and `{url}` shapes.
type UploadResponse struct {
	URL  string `json:"url"`
	Data struct {
		URL string `json:"url"`
	} `json:"data"`
}

// Location returns whichever url field the backend filled in.
func (r UploadResponse) Location() string {
	if r.Data.URL != "" {
		return r.Data.URL
	}
	return r.URL
}

// DocumentsMessage is one SSE message of /api/documents/stream. Snapshots
// carry Documents; updates carry Document or, from older backends, Documents.
// Entries are decoded one by one so a single malformed record does not drop
// the whole message.
type DocumentsMessage struct {
	Type      string            `json:"type"`
	Documents []json.RawMessage `json:"documents"`
	Document  json.RawMessage   `json:"document"`
}

// OfficersMessage is one SSE message of /api/duty-officers/stream.
type OfficersMessage struct {
	Type     string        `json:"type"`
	Officers *DutyOfficers `json:"officers"`
}

// OfficersResponse is the reply of GET /api/duty-officers.
type OfficersResponse struct {
	Success  bool          `json:"success"`
	Officers *DutyOfficers `json:"officers"`
}

// DocumentsResponse is the reply of GET /api/documents, either a bare array
// or `{documents:[...]}`.
type DocumentsResponse struct {
	Documents []json.RawMessage
}

func (r *DocumentsResponse) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, &r.Documents); err == nil {
		return nil
	}
	var wrapped struct {
		Documents []json.RawMessage `json:"documents"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return err
	}
	r.Documents = wrapped.Documents
	return nil
}

// DecodeDocuments decodes each raw record, skipping the ones that fail.
func DecodeDocuments(raws []json.RawMessage) ([]Document, []error) {
	docs := make([]Document, 0, len(raws))
	var errs []error
	for _, raw := range raws {
		var d Document
		if err := json.Unmarshal(raw, &d); err != nil {
			errs = append(errs, err)
			continue
		}
		docs = append(docs, d)
	}
	return docs, errs
}

const (
	StreamSnapshot = "snapshot"
	StreamUpdate   = "update"
)
