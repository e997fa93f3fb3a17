package types

import (
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
)

// ContentHash holds the MD5 and SHA1 digests of one byte stream.
type ContentHash struct {
	MD5  string `json:"md5"`
	SHA1 string `json:"sha1"`
	Size int64  `json:"size"`
}

// ComputeContentHash reads r to EOF once, computing both digests.
func ComputeContentHash(r io.Reader) (ContentHash, error) {
	m := md5.New()
	s := sha1.New()
	n, err := io.Copy(io.MultiWriter(m, s), r)
	if err != nil {
		return ContentHash{}, fmt.Errorf("hashing content: %w", err)
	}
	return ContentHash{
		MD5:  hex.EncodeToString(m.Sum(nil)),
		SHA1: hex.EncodeToString(s.Sum(nil)),
		Size: n,
	}, nil
}

// HashBytes is ComputeContentHash for an in-memory buffer.
func HashBytes(b []byte) ContentHash {
	m := md5.Sum(b)
	s := sha1.Sum(b)
	return ContentHash{
		MD5:  hex.EncodeToString(m[:]),
		SHA1: hex.EncodeToString(s[:]),
		Size: int64(len(b)),
	}
}

// SHA1Hex returns the hex SHA1 of s.
func SHA1Hex(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// ValidSHA1 reports whether s looks like a hex SHA1 digest.
func ValidSHA1(s string) bool {
	if len(s) != 40 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
