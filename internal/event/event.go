// Package event builds and delivers lifecycle notifications for ingested
// documents.
//
// Every successful or failed ingest produces one Record, fanned out to the
// configured sinks. Delivery is best-effort: sink errors are logged and
// never reach the ingest path.
package event

import "time"

// Event types carried in the "type" field.
const (
	TypeIngested = "document.ingested"
	TypeFailed   = "document.failed"
)

// Record is one event payload, serialized as a single JSON object.
type Record map[string]any

// Sizes summarizes what an ingest produced.
type Sizes struct {
	Chars  int `json:"chars"`
	Scenes int `json:"scenes"`
	Chunks int `json:"chunks"`
}

// Doc identifies the document an event concerns. Empty optional fields are
// omitted from the payload.
type Doc struct {
	Path    string
	Title   string
	Author  string
	Profile string
}

// timestamp is UTC now in the payload wire format.
func timestamp() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05Z")
}

// Ingested builds a document.ingested payload. Extra keys are merged last
// and may shadow the standard fields.
func Ingested(d Doc, workID, contentSHA1, runID string, sizes Sizes, extra map[string]any) Record {
	r := Record{
		"type":       TypeIngested,
		"work_id":    workID,
		"path":       d.Path,
		"sizes":      sizes,
		"created_at": timestamp(),
	}
	if d.Title != "" {
		r["title"] = d.Title
	}
	if d.Author != "" {
		r["author"] = d.Author
	}
	if contentSHA1 != "" {
		r["content_sha1"] = contentSHA1
	}
	if d.Profile != "" {
		r["profile"] = d.Profile
	}
	if runID != "" {
		r["run_id"] = runID
	}
	for k, v := range extra {
		r[k] = v
	}
	return r
}

// Failed builds a document.failed payload. stage names the phase that broke:
// precheck, read, parse, or persist.
func Failed(d Doc, reason, stage string, extra map[string]any) Record {
	r := Record{
		"type":       TypeFailed,
		"path":       d.Path,
		"reason":     reason,
		"stage":      stage,
		"created_at": timestamp(),
	}
	if d.Title != "" {
		r["title"] = d.Title
	}
	if d.Author != "" {
		r["author"] = d.Author
	}
	if d.Profile != "" {
		r["profile"] = d.Profile
	}
	for k, v := range extra {
		r[k] = v
	}
	return r
}
