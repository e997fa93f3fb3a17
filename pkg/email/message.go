// Package email parses RFC822/MIME messages and Apple Mail emlx files into
// the header/part tree, attachment table and body text the digest records.
//
// Leaf parts are addressed by dotted 1-based numbers ("1", "2.1") in
// document order. A message/rfc822 part counts as a container with a single
// child, the embedded message.
package email

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/praetorian-inc/hoard/pkg/pgp"
	"github.com/praetorian-inc/hoard/pkg/types"
)

// maxDepth bounds MIME nesting. Deeper structures are treated as leaves.
const maxDepth = 50

// Decrypter decrypts armored PGP blocks. *pgp.Decrypter implements it.
type Decrypter interface {
	Enabled() bool
	Decrypt(data []byte) ([]byte, error)
}

// PartLoader returns the raw payload of a part stored outside the message,
// as Apple Mail does for partial downloads.
type PartLoader func(number string) ([]byte, error)

// Part is one MIME entity.
type Part struct {
	Header      textproto.MIMEHeader
	ContentType string
	Params      map[string]string
	Disposition string
	Body        []byte
	Parts       []*Part
	Multipart   bool
}

// Message is a parsed email.
type Message struct {
	Root *Part

	// PGP is set when the raw message contains an armored PGP block.
	PGP bool

	decrypter Decrypter
	loader    PartLoader
	warnings  []string
}

// Parse parses raw message bytes. Malformed structure never fails the
// parse: a header block that cannot be read leaves the whole input as the
// body, and multipart damage is recorded as a warning.
func Parse(raw []byte, dec Decrypter) *Message {
	m := &Message{PGP: pgp.Contains(raw), decrypter: dec}
	m.Root = m.parseEntity(raw, 0)
	return m
}

func (m *Message) parseEntity(raw []byte, depth int) *Part {
	msg, err := mail.ReadMessage(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		if len(bytes.TrimSpace(raw)) > 0 {
			m.warnings = append(m.warnings, fmt.Sprintf("reading headers: %v", err))
		}
		return m.newPart(textproto.MIMEHeader{}, raw, depth)
	}
	body, _ := io.ReadAll(msg.Body)
	return m.newPart(textproto.MIMEHeader(msg.Header), body, depth)
}

// Warnings lists structural problems found while parsing.
func (m *Message) Warnings() []string {
	return m.warnings
}

func (m *Message) newPart(header textproto.MIMEHeader, body []byte, depth int) *Part {
	p := &Part{Header: header, Body: body, ContentType: "text/plain", Params: map[string]string{}}

	if v := header.Get("Content-Type"); v != "" {
		if mt, params, err := mime.ParseMediaType(v); err == nil {
			p.ContentType = strings.ToLower(mt)
			p.Params = params
		}
	}
	if v := header.Get("Content-Disposition"); v != "" {
		disp, params, err := mime.ParseMediaType(v)
		if err == nil {
			p.Disposition = strings.ToLower(disp)
			if fn := params["filename"]; fn != "" {
				p.Params["filename"] = fn
			}
		} else if d, _, _ := strings.Cut(v, ";"); strings.TrimSpace(d) != "" {
			p.Disposition = strings.ToLower(strings.TrimSpace(d))
		}
	}

	if depth >= maxDepth {
		return p
	}

	switch {
	case strings.HasPrefix(p.ContentType, "multipart/") && p.Params["boundary"] != "":
		p.Multipart = true
		mr := multipart.NewReader(bytes.NewReader(body), p.Params["boundary"])
		for i := 1; ; i++ {
			raw, err := mr.NextRawPart()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					m.warnings = append(m.warnings, fmt.Sprintf("multipart %s: %v", p.ContentType, err))
				}
				break
			}
			data, err := io.ReadAll(raw)
			if err != nil {
				m.warnings = append(m.warnings, fmt.Sprintf("multipart %s part %d: %v", p.ContentType, i, err))
				break
			}
			p.Parts = append(p.Parts, m.newPart(raw.Header, data, depth+1))
		}
	case p.ContentType == "message/rfc822":
		payload, err := decodePayload(header, body)
		if err != nil {
			payload = body
		}
		p.Multipart = true
		p.Parts = []*Part{m.parseEntity(payload, depth+1)}
	}
	return p
}

// Filename returns the part's declared filename, from the disposition or
// the content type, with encoded words decoded.
func (p *Part) Filename() string {
	name := p.Params["filename"]
	if name == "" {
		name = p.Params["name"]
	}
	if name == "" {
		return ""
	}
	if decoded, err := decodeHeader(name); err == nil {
		return decoded
	}
	return name
}

// Charset returns the declared charset parameter, if any.
func (p *Part) Charset() string {
	return p.Params["charset"]
}

// Payload returns the body with its transfer encoding removed.
func (p *Part) Payload() ([]byte, error) {
	return decodePayload(p.Header, p.Body)
}

func decodePayload(header textproto.MIMEHeader, body []byte) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(header.Get("Content-Transfer-Encoding"))) {
	case "base64":
		return decodeBase64(body)
	case "quoted-printable":
		return io.ReadAll(quotedprintable.NewReader(bytes.NewReader(body)))
	default:
		return body, nil
	}
}

// Leaf is an addressed leaf part.
type Leaf struct {
	Number string
	Part   *Part
}

// Leaves lists the leaf parts in document order.
func (m *Message) Leaves() []Leaf {
	var out []Leaf
	var walk func(p *Part, bits []string)
	walk = func(p *Part, bits []string) {
		if !p.Multipart {
			out = append(out, Leaf{Number: strings.Join(bits, "."), Part: p})
			return
		}
		for i, child := range p.Parts {
			walk(child, append(bits[:len(bits):len(bits)], strconv.Itoa(i+1)))
		}
	}
	walk(m.Root, nil)
	return out
}

// Part returns the leaf with the given address.
func (m *Message) Part(number string) (*Part, bool) {
	for _, leaf := range m.Leaves() {
		if leaf.Number == number {
			return leaf.Part, true
		}
	}
	return nil, false
}

// OpenPart returns the decoded payload of one leaf part, decrypted when
// the message carries PGP and a keyring is configured.
func (m *Message) OpenPart(number string) ([]byte, error) {
	part, ok := m.Part(number)
	if !ok {
		return nil, fmt.Errorf("email part %q not found", number)
	}

	body := part.Body
	if m.loader != nil && part.Header.Get("X-Apple-Content-Length") != "" {
		external, err := m.loader(number)
		if err != nil {
			return nil, err
		}
		body = external
	}

	data, err := decodePayload(part.Header, body)
	if err != nil {
		return nil, types.Broken(types.BrokenEmailPayloadError, err, "decoding part %s", number)
	}

	if m.PGP && m.decrypter != nil && m.decrypter.Enabled() && pgp.Contains(data) {
		return m.decrypter.Decrypt(data)
	}
	return data, nil
}

// decodeBase64 decodes leniently: characters outside the alphabet are
// skipped and a truncated final quantum is dropped.
func decodeBase64(body []byte) ([]byte, error) {
	clean := make([]byte, 0, len(body))
	for _, c := range body {
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '+', c == '/':
			clean = append(clean, c)
		}
	}
	if len(clean)%4 == 1 {
		clean = clean[:len(clean)-1]
	}
	out := make([]byte, base64.RawStdEncoding.DecodedLen(len(clean)))
	n, err := base64.RawStdEncoding.Decode(out, clean)
	if err != nil {
		return nil, fmt.Errorf("decoding base64: %w", err)
	}
	return out[:n], nil
}
