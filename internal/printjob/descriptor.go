// Package printjob contains the job descriptor shared by the transports,
// the dispatcher and the print paths.
package printjob

import (
	"encoding/json"
	"strings"
)

// Kind is the print-type tag selecting which print path handles a job.
type Kind string

// Print-type tags. Anything not listed falls through to KindHTML.
const (
	KindHTML    Kind = "html"
	KindPDF     Kind = "pdf"
	KindURLPDF  Kind = "url_pdf"
	KindBlobPDF Kind = "blob_pdf"
)

// Client categories stamped by the receiving transport.
const (
	ClientLocal   = "local"
	ClientRelay   = "relay"
	ClientReprint = "reprint" // queued again from the dashboard
)

// Descriptor describes one print request. It is built by the transport,
// consumed once by the dispatcher and dropped after the terminal event.
type Descriptor struct {
	ClientID    string `json:"clientId,omitempty"`
	ClientType  string `json:"clientType,omitempty"`
	Printer     string `json:"printer,omitempty"`
	TemplateID  string `json:"templateId,omitempty"`
	Type        string `json:"type,omitempty"`
	PageCount   int    `json:"pageNum,omitempty"`
	Reprintable bool   `json:"reprintable,omitempty"`

	// TaskID keys the pending-completion registry; ReplyID routes replies.
	TaskID  string `json:"taskId,omitempty"`
	ReplyID string `json:"replyId,omitempty"`

	// HTML or URL feed the rendering surface; URL is also the source of
	// url_pdf jobs (remote URL or local path).
	HTML    string `json:"html,omitempty"`
	URL     string `json:"url,omitempty"`
	PDFBlob Blob   `json:"pdf_blob,omitempty"`

	Options
}

// Kind returns the normalized print-type tag.
func (d *Descriptor) Kind() Kind {
	switch k := Kind(strings.ToLower(strings.TrimSpace(d.Type))); k {
	case KindPDF, KindURLPDF, KindBlobPDF:
		return k
	default:
		return KindHTML
	}
}

// HasBlob reports whether the job carries a pdf_blob payload field.
func (d *Descriptor) HasBlob() bool {
	return !d.PDFBlob.IsZero()
}

// LogJSON serializes the descriptor for the job log, without the blob bytes.
func (d *Descriptor) LogJSON() string {
	c := *d
	c.PDFBlob = nil
	b, err := json.Marshal(&c)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// Parse decodes a descriptor from the raw "datos" payload.
func Parse(raw []byte) (*Descriptor, error) {
	var d Descriptor
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, err
	}
	return &d, nil
}
