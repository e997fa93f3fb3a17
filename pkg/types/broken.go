package types

import (
	"errors"
	"fmt"
)

// Broken flags recorded on Document.Broken.
const (
	BrokenArchiveEncrypted        = "archive_encrypted"
	BrokenArchiveExtractionFailed = "archive_extraction_failed"
	BrokenArchiveMissingFile      = "archive_missing_file"
	BrokenPSTExtractionFailed     = "pst_extraction_failed"
	BrokenPSTMissingFile          = "pst_missing_file"
	BrokenEmailCorruptedFile      = "emails_corrupted_file"
	BrokenEmailPayloadError       = "emails_payload_error"
	BrokenEmailMissingEmlxPart    = "emails_missing_emlx_part"
	BrokenPGPDecryptionFailed     = "pgp_decryption_failed"
)

// BrokenError marks a document as permanently unprocessable. The worker
// records Flag on the document instead of failing the job.
type BrokenError struct {
	Flag   string
	Detail string
	Err    error
}

func (e *BrokenError) Error() string {
	msg := e.Flag
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *BrokenError) Unwrap() error { return e.Err }

// Broken builds a BrokenError with a formatted detail message.
func Broken(flag string, err error, format string, args ...any) error {
	return &BrokenError{Flag: flag, Detail: fmt.Sprintf(format, args...), Err: err}
}

// AsBroken unwraps err to a BrokenError if it carries one.
func AsBroken(err error) (*BrokenError, bool) {
	var b *BrokenError
	if errors.As(err, &b) {
		return b, true
	}
	return nil, false
}
