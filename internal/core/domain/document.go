package domain

import "time"

// IndexState tracks a document's position in the indexing lifecycle
type IndexState string

const (
	IndexStatePending IndexState = "pending"
	IndexStateIndexed IndexState = "indexed"
	IndexStateFailed  IndexState = "failed"
	IndexStateRemoved IndexState = "removed" // row kept as hash anchor, vectors gone
)

// Document represents an uploaded document within a course. Identical
// content is stored once: the first upload becomes the original and every
// later upload of the same bytes becomes a reference pointing at it.
type Document struct {
	ID          string     `json:"id"`
	OrgID       string     `json:"org_id"`
	CourseID    string     `json:"course_id"`
	Title       string     `json:"title"`
	MimeType    string     `json:"mime_type"`
	SizeBytes   int64      `json:"size_bytes"`
	ContentHash string     `json:"content_hash"` // sha256 hex of the raw upload
	OriginalID  string     `json:"original_id,omitempty"`
	RefCount    int        `json:"ref_count"` // originals only; references carry 0
	IndexState  IndexState `json:"index_state"`
	IndexError  string     `json:"index_error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// IsOriginal reports whether d anchors the stored content for its hash.
func (d *Document) IsOriginal() bool {
	return d.OriginalID == ""
}

// Tenant scopes every ingest and search operation
type Tenant struct {
	OrgID    string `json:"org_id"`
	CourseID string `json:"course_id"`
}

// Valid reports whether both tenancy coordinates are present.
func (t Tenant) Valid() bool {
	return t.OrgID != "" && t.CourseID != ""
}

// Upload is the raw inbound artifact handed to the ingest pipeline
type Upload struct {
	Title    string
	MimeType string
	Content  []byte
}

// IngestResult reports what ingesting an upload produced
type IngestResult struct {
	DocumentID   string `json:"document_id"`
	Deduplicated bool   `json:"deduplicated"` // true when served by an existing original
}

// DeleteResult reports the effect of removing a document
type DeleteResult struct {
	PhysicalDeleted     bool `json:"physical_deleted"` // artifact and last vectors destroyed
	RemainingReferences int  `json:"remaining_references"`
}

// QuotaUsage is an organisation's storage accounting row
type QuotaUsage struct {
	OrgID      string    `json:"org_id"`
	UsedBytes  int64     `json:"used_bytes"`
	LimitBytes int64     `json:"limit_bytes"`
	Documents  int       `json:"documents"`
	UpdatedAt  time.Time `json:"updated_at"`
}
