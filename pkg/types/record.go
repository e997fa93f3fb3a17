package types

import (
	"encoding/json"
	"fmt"
)

// Record is the per-document Digest: everything extracted from one document.
// Fields that do not apply to the document's type are omitted.
type Record struct {
	Path     string `json:"path"`
	Filename string `json:"filename"`
	Type     string `json:"type"`
	MD5      string `json:"md5"`
	SHA1     string `json:"sha1"`
	Rev      int64  `json:"rev"`
	Broken   string `json:"broken,omitempty"`

	Text     string `json:"text,omitempty"`
	SafeHTML string `json:"safe_html,omitempty"`
	Lang     string `json:"lang,omitempty"`

	// Set for documents extracted from an email.
	Message int64 `json:"message,omitempty"`
	PGP     bool  `json:"pgp,omitempty"`

	// Email fields. Subject and From are pointers so an email with an empty
	// subject still records "".
	Subject     *string               `json:"subject,omitempty"`
	From        *string               `json:"from,omitempty"`
	To          []string              `json:"to,omitempty"`
	Date        string                `json:"date,omitempty"`
	MessageID   string                `json:"message-id,omitempty"`
	InReplyTo   string                `json:"in-reply-to,omitempty"`
	ThreadIndex string                `json:"thread-index,omitempty"`
	References  string                `json:"references,omitempty"`
	Tree        *EmailTree            `json:"tree,omitempty"`
	Attachments map[string]Attachment `json:"attachments,omitempty"`
	EmailFlags  []string              `json:"email-flags,omitempty"`

	// Container listings.
	FileList   []string `json:"file_list,omitempty"`
	FolderList []string `json:"folder_list,omitempty"`

	// Image and document metadata.
	Location     string          `json:"location,omitempty"`
	DateCreated  string          `json:"date-created,omitempty"`
	ContentType  string          `json:"content-type,omitempty"`
	Author       string          `json:"author,omitempty"`
	EncryptedPDF bool            `json:"encrypted-pdf,omitempty"`
	Tika         json.RawMessage `json:"tika,omitempty"`
	PageCount    int             `json:"page-count,omitempty"`

	OCR       map[string]string `json:"ocr,omitempty"`
	WordCount *int              `json:"word-count,omitempty"`
	Warnings  []string          `json:"warnings,omitempty"`
}

// Warn appends a formatted warning.
func (r *Record) Warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Encode serializes the record for storage.
func (r *Record) Encode() ([]byte, error) {
	return json.Marshal(r)
}

// DecodeRecord parses a stored record.
func DecodeRecord(data []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decoding digest: %w", err)
	}
	return &r, nil
}

// EmailTree mirrors the MIME structure of a message: decoded headers per
// part, and either child parts or the raw payload length of a leaf.
type EmailTree struct {
	Headers map[string][]string `json:"headers"`
	Parts   []*EmailTree        `json:"parts,omitempty"`
	Length  int                 `json:"length,omitempty"`
}

// Attachment describes one leaf part of an email that has a filename.
type Attachment struct {
	ContentType string `json:"content_type"`
	Filename    string `json:"filename"`
	Size        int    `json:"size"`
}
