package types

import (
	"encoding/json"
	"path"
	"time"
)

// FolderContentType is the content type given to directory documents.
const FolderContentType = "application/x-directory"

// Flag names stored on Document.Flags.
const (
	FlagPGP            = "pgp"
	FlagMsgconvertFail = "msgconvert_fail"
)

// InheritableFlags are copied from a container onto the children it produces.
var InheritableFlags = []string{FlagPGP}

// Collection is a named root of documents on disk.
type Collection struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Path string `json:"path"`
	// OCR maps an OCR tag to the directory holding that OCR run's output.
	OCR       map[string]string `json:"ocr,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Document is one node in the collection tree: a filesystem entry, a member
// of an extracted archive, or an email attachment.
//
// ContainerID and ParentID are zero for documents with no container or
// parent. Path is byte-accurate and may hold invalid UTF-8.
type Document struct {
	ID           int64     `json:"id"`
	CollectionID int64     `json:"collection_id"`
	ContainerID  int64     `json:"container_id,omitempty"`
	ParentID     int64     `json:"parent_id,omitempty"`
	Path         string    `json:"path"`
	Filename     string    `json:"filename"`
	ContentType  string    `json:"content_type"`
	DiskSize     int64     `json:"disk_size"`
	MD5          string    `json:"md5,omitempty"`
	SHA1         string    `json:"sha1,omitempty"`
	Broken       string    `json:"broken,omitempty"`
	Flags        Flags     `json:"flags,omitempty"`
	Rev          int64     `json:"rev"`
	DigestedAt   time.Time `json:"digested_at,omitzero"`
}

// IsFolder reports whether the document is a directory.
func (d *Document) IsFolder() bool {
	return d.ContentType == FolderContentType
}

// HasHashes reports whether the content hashes were already computed.
func (d *Document) HasHashes() bool {
	return d.SHA1 != "" && d.MD5 != ""
}

// Name returns the filename, falling back to the last path component.
func (d *Document) Name() string {
	if d.Filename != "" {
		return d.Filename
	}
	return path.Base(d.Path)
}

// Flags is the free-form flag bag attached to a document.
type Flags map[string]bool

// Has reports whether name is set.
func (f Flags) Has(name string) bool {
	return f != nil && f[name]
}

// Inherited returns the subset of f that children inherit.
func (f Flags) Inherited() Flags {
	out := Flags{}
	for _, name := range InheritableFlags {
		if f.Has(name) {
			out[name] = true
		}
	}
	return out
}

// Encode returns the JSON form stored in the database.
func (f Flags) Encode() string {
	if len(f) == 0 {
		return "{}"
	}
	b, _ := json.Marshal(map[string]bool(f))
	return string(b)
}

// DecodeFlags parses the stored JSON form. Empty input yields an empty set.
func DecodeFlags(s string) (Flags, error) {
	f := Flags{}
	if s == "" {
		return f, nil
	}
	if err := json.Unmarshal([]byte(s), &f); err != nil {
		return nil, err
	}
	return f, nil
}

// Ocr is the text of one OCR'd document, keyed by the md5 of the original
// it was produced from.
type Ocr struct {
	ID           int64  `json:"id"`
	CollectionID int64  `json:"collection_id"`
	Tag          string `json:"tag"`
	MD5          string `json:"md5"`
	Path         string `json:"path"`
	Text         string `json:"text"`
}
