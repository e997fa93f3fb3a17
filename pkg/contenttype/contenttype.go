// Package contenttype maps filenames and leading bytes to MIME types, and
// MIME types to the coarse type tags the digest pipeline dispatches on.
package contenttype

import (
	"bytes"
	"mime"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// SniffLimit is how many leading bytes the magic sniffer looks at.
const SniffLimit = 4 << 20

// Content types the pipeline treats specially.
const (
	Folder      = "application/x-directory"
	PST         = "application/x-hoover-pst"
	Emlx        = "message/x-emlx"
	EmlxPart    = "message/x-emlxpart"
	RFC822      = "message/rfc822"
	OutlookMsg  = "application/vnd.ms-outlook"
	OctetStream = "application/octet-stream"
)

// Coarse type tags.
const (
	TagFolder       = "folder"
	TagText         = "text"
	TagHTML         = "html"
	TagEmail        = "email"
	TagEmailArchive = "email-archive"
	TagDoc          = "doc"
	TagXLS          = "xls"
	TagPPT          = "ppt"
	TagPDF          = "pdf"
	TagArchive      = "archive"
	TagImage        = "image"
	TagAudio        = "audio"
	TagVideo        = "video"
)

// pstMagic is the signature at the start of every Outlook personal folder.
var pstMagic = []byte("!BDN")

func init() {
	mimetype.SetLimit(SniffLimit)
}

// Guess returns the MIME type implied by the filename extension, or "" when
// the extension is unknown.
func Guess(filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	if ext == "" {
		return ""
	}
	if ct, ok := extensions[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return Normalize(ct)
	}
	return ""
}

// Sniff detects a MIME type from leading content bytes.
func Sniff(head []byte) string {
	if len(head) == 0 {
		return ""
	}
	if bytes.HasPrefix(head, pstMagic) {
		return PST
	}
	mt := mimetype.Detect(head)
	for m := mt; m != nil; m = m.Parent() {
		if ct, ok := sniffAliases[Normalize(m.String())]; ok {
			return ct
		}
	}
	return Normalize(mt.String())
}

// Classify resolves a content type: the filename extension wins, unless it
// is missing or only says "opaque bytes", in which case content is sniffed.
func Classify(filename string, head []byte) string {
	if ct := Guess(filename); ct != "" && ct != OctetStream {
		return ct
	}
	if ct := Sniff(head); ct != "" {
		return ct
	}
	return OctetStream
}

// Normalize lowercases a content type and strips its parameters.
func Normalize(ct string) string {
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

// FileType returns the coarse tag for a content type, or "" if the type
// is not one the pipeline extracts anything from.
func FileType(ct string) string {
	ct = Normalize(ct)
	if tag, ok := fileTypes[ct]; ok {
		return tag
	}
	switch super, _, _ := strings.Cut(ct, "/"); super {
	case TagImage, TagAudio, TagVideo:
		return super
	}
	return ""
}
