// Package jobs defines the background file-upload job model: the
// serializable unit of work consumed by the upload and DLQ pools.
package jobs

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Job is a single file-upload task pulled from the main queue or the DLQ.
//
// EntityKey is the mutual-exclusion key (the business entity being
// uploaded); it is distinct from ID, which identifies this attempt.
type Job struct {
	ID           string         `json:"id"`
	EntityKey    string         `json:"esign_id"`
	DocumentURL  string         `json:"document_url"`
	DocumentName string         `json:"document_name"`
	DocumentType string         `json:"document_type"`
	RetryCount   int            `json:"retry_count"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	Metadata     map[string]any `json:"metadata"`
}

// New constructs a Job with a fresh ID and created/updated timestamps set
// to now. RetryCount starts at 0.
func New(entityKey, documentURL, documentName, documentType string, metadata map[string]any) Job {
	now := time.Now().UTC()
	if metadata == nil {
		metadata = map[string]any{}
	}
	return Job{
		ID:           uuid.NewString(),
		EntityKey:    entityKey,
		DocumentURL:  documentURL,
		DocumentName: documentName,
		DocumentType: documentType,
		RetryCount:   0,
		CreatedAt:    now,
		UpdatedAt:    now,
		Metadata:     metadata,
	}
}

// IncrementRetry bumps RetryCount and advances UpdatedAt. It never touches
// ID or CreatedAt.
func (j *Job) IncrementRetry() {
	j.RetryCount++
	j.UpdatedAt = time.Now().UTC()
}

// LockKey returns the distributed-lock key for this job's entity.
func (j Job) LockKey() string {
	return "upload_lock:" + j.EntityKey
}

// ErrorType returns the advisory error classification hint carried in
// Metadata, if any. Used by the DLQ pool's recoverability classifier.
func (j Job) ErrorType() string {
	v, ok := j.Metadata["error_type"]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Encode serializes the job to its wire format (a single JSON object).
func Encode(j Job) ([]byte, error) {
	return json.Marshal(j)
}

// Decode parses the wire format produced by Encode. Unknown fields are
// tolerated (standard json.Unmarshal behavior).
func Decode(data []byte) (Job, error) {
	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return Job{}, err
	}
	return j, nil
}
