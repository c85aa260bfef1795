package fuzzy

import (
	"bytes"
	"errors"

	"github.com/glaslos/tlsh"
)

// TLSH needs input with some length and variety; below this the hash
// is not meaningful.
const tlshMinBytes = 256

var ErrTooShort = errors.New("fuzzy: input too short to hash")

type TLSHHasher struct{}

func (h TLSHHasher) Name() string {
	return "tlsh"
}

func (h TLSHHasher) HashBytes(data []byte) (string, error) {
	if len(data) < tlshMinBytes {
		return "", ErrTooShort
	}
	hash, err := tlsh.HashReader(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	return hash.String(), nil
}

func (h TLSHHasher) Distance(a, b string) (int, error) {
	ta, err := tlsh.ParseStringToTlsh(a)
	if err != nil {
		return 0, err
	}
	tb, err := tlsh.ParseStringToTlsh(b)
	if err != nil {
		return 0, err
	}
	return ta.Diff(tb), nil
}

func init() {
	Register(TLSHHasher{})
}
