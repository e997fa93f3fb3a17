// Package pgp finds and decrypts ASCII-armored PGP messages embedded in
// email bodies and attachments.
package pgp

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"

	"github.com/praetorian-inc/hoard/pkg/types"
)

var (
	beginMarker = []byte("-----BEGIN PGP MESSAGE-----")
	blockRe     = regexp.MustCompile(`(?s)-----BEGIN PGP MESSAGE-----[^-]+-----END PGP MESSAGE-----`)
)

// Contains reports whether data holds the start of an armored message.
func Contains(data []byte) bool {
	return bytes.Contains(data, beginMarker)
}

// ExtractBlock returns the first complete armored message in data, or nil.
func ExtractBlock(data []byte) []byte {
	return blockRe.Find(data)
}

// Decrypter decrypts armored messages with a fixed keyring.
type Decrypter struct {
	keys       openpgp.EntityList
	passphrase []byte
}

// NewDecrypter returns a Decrypter for keys. passphrase unlocks encrypted
// private keys and symmetrically encrypted messages.
func NewDecrypter(keys openpgp.EntityList, passphrase []byte) *Decrypter {
	return &Decrypter{keys: keys, passphrase: passphrase}
}

// LoadKeyring reads an armored or binary keyring file.
func LoadKeyring(path string, passphrase []byte) (*Decrypter, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading keyring: %w", err)
	}

	keys, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(data))
	if err != nil {
		keys, err = openpgp.ReadKeyRing(bytes.NewReader(data))
	}
	if err != nil {
		return nil, fmt.Errorf("parsing keyring %s: %w", path, err)
	}
	return NewDecrypter(keys, passphrase), nil
}

// Enabled reports whether decryption is configured. A nil Decrypter is
// valid and disabled.
func (d *Decrypter) Enabled() bool {
	return d != nil && len(d.keys) > 0
}

// Decrypt replaces data with the plaintext of its armored block. Data
// without a complete block is returned unchanged. Failure is reported as a
// broken-document error.
func (d *Decrypter) Decrypt(data []byte) ([]byte, error) {
	block := ExtractBlock(data)
	if block == nil {
		return data, nil
	}
	if !d.Enabled() {
		return nil, types.Broken(types.BrokenPGPDecryptionFailed, nil, "no keyring configured")
	}

	armored, err := armor.Decode(bytes.NewReader(block))
	if err != nil {
		return nil, types.Broken(types.BrokenPGPDecryptionFailed, err, "decoding armor")
	}

	md, err := openpgp.ReadMessage(armored.Body, d.keys, d.prompt, nil)
	if err != nil {
		return nil, types.Broken(types.BrokenPGPDecryptionFailed, err, "reading message")
	}

	plain, err := io.ReadAll(md.UnverifiedBody)
	if err != nil {
		return nil, types.Broken(types.BrokenPGPDecryptionFailed, err, "reading plaintext")
	}
	return plain, nil
}

// prompt is called by openpgp when the private keys it needs are locked.
func (d *Decrypter) prompt(keys []openpgp.Key, symmetric bool) ([]byte, error) {
	if len(d.passphrase) == 0 {
		return nil, errors.New("passphrase required")
	}
	if symmetric {
		return d.passphrase, nil
	}
	for _, k := range keys {
		if k.PrivateKey != nil && k.PrivateKey.Encrypted {
			if err := k.PrivateKey.Decrypt(d.passphrase); err != nil {
				return nil, err
			}
		}
	}
	return nil, nil
}
