package email

import (
	"fmt"
	"mime"
	"net/mail"
	"strings"

	"github.com/araddon/dateparse"
	"golang.org/x/net/html/charset"

	"github.com/praetorian-inc/hoard/pkg/contenttype"
	"github.com/praetorian-inc/hoard/pkg/extract"
	"github.com/praetorian-inc/hoard/pkg/types"
)

// FlagUnknownAttachment marks a message with a non-text leaf part that
// lacks a disposition or filename and so cannot become a child document.
const FlagUnknownAttachment = "unknown_attachment"

// recipientHeaders are merged, in order, into the "to" field.
var recipientHeaders = []string{"to", "cc", "bcc", "resent-to", "recent-cc", "reply-to"}

var wordDecoder = &mime.WordDecoder{CharsetReader: charset.NewReaderLabel}

// Parsed is the cacheable summary of a message.
type Parsed struct {
	Tree        *types.EmailTree            `json:"tree"`
	Attachments map[string]types.Attachment `json:"attachments"`
	Text        string                      `json:"text"`
	PGP         bool                        `json:"pgp"`
	Flags       []string                    `json:"flags,omitempty"`
	Warnings    []string                    `json:"warnings,omitempty"`
}

// Summary builds the tree, attachment table and body text.
func (m *Message) Summary() *Parsed {
	p := &Parsed{
		Tree:        tree(m.Root),
		Attachments: m.Attachments(),
		Text:        m.Text(),
		PGP:         m.PGP,
		Warnings:    append([]string(nil), m.warnings...),
	}

	for _, leaf := range m.Leaves() {
		part := leaf.Part
		if _, ok := p.Attachments[leaf.Number]; ok || isText(part.ContentType) {
			continue
		}
		if !contains(p.Flags, FlagUnknownAttachment) {
			p.Flags = append(p.Flags, FlagUnknownAttachment)
		}
		p.Warnings = append(p.Warnings, fmt.Sprintf("part %q: %s is not an attachment", leaf.Number, part.ContentType))
	}
	return p
}

func tree(p *Part) *types.EmailTree {
	t := &types.EmailTree{Headers: decodeHeaders(p)}
	if p.Multipart {
		t.Parts = make([]*types.EmailTree, 0, len(p.Parts))
		for _, child := range p.Parts {
			t.Parts = append(t.Parts, tree(child))
		}
		return t
	}
	t.Length = len(p.Body)
	return t
}

// decodeHeaders lowercases header names and decodes encoded words. Values
// that fail to decode are kept verbatim under "_broken_<name>".
func decodeHeaders(p *Part) map[string][]string {
	out := map[string][]string{}
	for key, values := range p.Header {
		key = strings.ToLower(key)
		for _, v := range values {
			decoded, err := decodeHeader(v)
			if err != nil {
				out["_broken_"+key] = append(out["_broken_"+key], v)
				continue
			}
			out[key] = append(out[key], decoded)
		}
	}
	return out
}

func decodeHeader(v string) (string, error) {
	decoded, err := wordDecoder.DecodeHeader(v)
	if err != nil {
		return "", err
	}
	return extract.DecodeText([]byte(decoded)), nil
}

// Attachments lists leaf parts with both a disposition and a filename,
// keyed by part number.
func (m *Message) Attachments() map[string]types.Attachment {
	out := map[string]types.Attachment{}
	for _, leaf := range m.Leaves() {
		part := leaf.Part
		if part.Disposition == "" {
			continue
		}
		filename := part.Filename()
		if filename == "" {
			continue
		}

		ct := part.ContentType
		if ct == contenttype.OctetStream || (ct == "text/plain" && m.decrypting()) {
			ct = guess(filename)
		}

		out[leaf.Number] = types.Attachment{
			ContentType: ct,
			Filename:    filename,
			Size:        len(part.Body),
		}
	}
	return out
}

func guess(filename string) string {
	if ct := contenttype.Guess(filename); ct != "" {
		return ct
	}
	return contenttype.OctetStream
}

// Text concatenates the text of every text/plain and text/html leaf.
func (m *Message) Text() string {
	var parts []string
	for _, leaf := range m.Leaves() {
		if text := m.partText(leaf.Part); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n")
}

func (m *Message) partText(p *Part) string {
	switch p.ContentType {
	case "text/plain":
		if m.decrypting() {
			if p.Disposition != "" {
				return ""
			}
			return m.payloadText(p, true)
		}
		return m.payloadText(p, false)
	case "text/html":
		return extract.HTMLTextString(m.payloadText(p, false))
	}
	return ""
}

// payloadText decodes a part to a string. Failures become a placeholder
// naming the failure instead of aborting the message.
func (m *Message) payloadText(p *Part, decrypt bool) string {
	data, err := p.Payload()
	if err != nil {
		return "(Error: PayloadError)"
	}
	if decrypt {
		if data, err = m.decrypter.Decrypt(data); err != nil {
			return "(Error: DecryptionError)"
		}
	}
	return extract.DecodeCharset(data, p.Charset())
}

func (m *Message) decrypting() bool {
	return m.PGP && m.decrypter != nil && m.decrypter.Enabled()
}

func isText(ct string) bool {
	return ct == "text/plain" || ct == "text/html"
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Fill copies the message fields into a digest record.
func (p *Parsed) Fill(rec *types.Record) {
	headers := p.Tree.Headers

	subject := first(headers, "subject")
	from := first(headers, "from")
	rec.Subject = &subject
	rec.From = &from
	for _, name := range recipientHeaders {
		rec.To = append(rec.To, headers[name]...)
	}

	rec.MessageID = first(headers, "message-id")
	rec.InReplyTo = first(headers, "in-reply-to")
	rec.ThreadIndex = first(headers, "thread-index")
	rec.References = first(headers, "references")
	if date, ok := parseDate(first(headers, "date")); ok {
		rec.Date = date
	}

	rec.Text = p.Text
	rec.Tree = p.Tree
	rec.Attachments = p.Attachments
	rec.EmailFlags = append(rec.EmailFlags, p.Flags...)
	rec.Warnings = append(rec.Warnings, p.Warnings...)
}

func first(headers map[string][]string, name string) string {
	if v := headers[name]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// parseDate formats an RFC 5322 date as ISO-8601 with offset. A "-0000"
// zone means the offset is unknown and is omitted.
func parseDate(v string) (string, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", false
	}
	t, err := mail.ParseDate(v)
	if err != nil {
		t, err = dateparse.ParseAny(v)
		if err != nil {
			return "", false
		}
	}
	if strings.HasSuffix(v, "-0000") {
		return t.Format("2006-01-02T15:04:05"), true
	}
	return t.Format("2006-01-02T15:04:05-07:00"), true
}
