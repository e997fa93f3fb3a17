// Package containers opens documents that live inside other documents:
// archive and PST members extracted to an on-disk cache, and email
// attachments decoded from their message.
package containers

import (
	"github.com/praetorian-inc/hoard/pkg/contenttype"
)

// Kind identifies the adapter responsible for a container document.
type Kind int

const (
	None Kind = iota
	Archive
	PST
	Email
	Emlx
	OutlookMsg
)

var kindNames = [...]string{
	None:       "none",
	Archive:    "archive",
	PST:        "pst",
	Email:      "email",
	Emlx:       "emlx",
	OutlookMsg: "outlook-msg",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// KindOf selects the container kind for a content type. Non-containers
// are None.
func KindOf(contentType string) Kind {
	ct := contenttype.Normalize(contentType)
	switch ct {
	case contenttype.PST:
		return PST
	case contenttype.RFC822:
		return Email
	case contenttype.Emlx:
		return Emlx
	case contenttype.OutlookMsg:
		return OutlookMsg
	}
	if contenttype.FileType(ct) == contenttype.TagArchive {
		return Archive
	}
	return None
}

// IsEmail reports whether members are addressed by MIME part number.
func (k Kind) IsEmail() bool {
	return k == Email || k == Emlx || k == OutlookMsg
}

// Extracts reports whether the container is unpacked into a cache
// directory whose tree is walked for members.
func (k Kind) Extracts() bool {
	return k == Archive || k == PST
}
