package diff

import (
	"encoding/hex"
	"fmt"
)

// Digest is the 128-bit fingerprint of a snapshot or one of its sections.
type Digest [16]byte

func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// EncodingError reports a snapshot value that has no canonical rendering.
type EncodingError struct {
	Path string
	Err  error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("canonical encoding failed at %s: %v", e.Path, e.Err)
}

func (e *EncodingError) Unwrap() error {
	return e.Err
}
