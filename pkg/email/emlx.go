package email

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/praetorian-inc/hoard/pkg/types"
)

// emlxHeaderLimit is how far into the file the length line may extend.
const emlxHeaderLimit = 11

const partialSuffix = ".partial.emlx"

// ParseEmlx parses an Apple Mail message file: a decimal byte count on its
// own line, then exactly that many bytes of RFC822 message. Anything after
// the message (the property list trailer) is ignored.
//
// path locates the sibling ".N.emlxpart" files that hold the external
// payloads of partially downloaded messages.
func ParseEmlx(data []byte, path string, dec Decrypter) (*Message, error) {
	raw, err := emlxMessage(data)
	if err != nil {
		return nil, types.Broken(types.BrokenEmailCorruptedFile, err, "reading emlx framing")
	}
	m := Parse(raw, dec)
	m.loader = emlxPartLoader(path)
	return m, nil
}

func emlxMessage(data []byte) ([]byte, error) {
	head := data
	if len(head) > emlxHeaderLimit {
		head = head[:emlxHeaderLimit]
	}
	nl := bytes.IndexByte(head, '\n')
	if nl < 0 {
		return nil, errors.New("no length line")
	}
	size, err := strconv.Atoi(strings.TrimSpace(string(head[:nl])))
	if err != nil || size < 0 {
		return nil, fmt.Errorf("bad length line %q", head[:nl])
	}
	rest := data[nl+1:]
	if len(rest) < size {
		return nil, fmt.Errorf("declared %d bytes, have %d", size, len(rest))
	}
	return rest[:size], nil
}

// EmlxPartPath returns the file holding part number of a partial message.
func EmlxPartPath(path, number string) (string, bool) {
	base := filepath.Base(path)
	if !strings.HasSuffix(base, partialSuffix) {
		return "", false
	}
	name := strings.TrimSuffix(base, partialSuffix) + "." + number + ".emlxpart"
	return filepath.Join(filepath.Dir(path), name), true
}

func emlxPartLoader(path string) PartLoader {
	return func(number string) ([]byte, error) {
		partPath, ok := EmlxPartPath(path, number)
		if !ok {
			return nil, types.Broken(types.BrokenEmailMissingEmlxPart, nil, "%s is not a partial message", filepath.Base(path))
		}
		data, err := os.ReadFile(partPath)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, types.Broken(types.BrokenEmailMissingEmlxPart, err, "part %s", number)
		}
		if err != nil {
			return nil, fmt.Errorf("reading emlx part: %w", err)
		}
		return data, nil
	}
}
