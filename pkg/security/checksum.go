package security

import (
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/blake2b"
)

// ChecksumReader tees everything read through it into a BLAKE2b-256 hash
type ChecksumReader struct {
	r    io.Reader
	hash hashWriter
	n    int64
}

type hashWriter interface {
	io.Writer
	Sum(b []byte) []byte
}

func NewChecksumReader(r io.Reader) (*ChecksumReader, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to init blake2b: %w", err)
	}
	return &ChecksumReader{r: r, hash: h}, nil
}

func (c *ChecksumReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		_, _ = c.hash.Write(p[:n])
		c.n += int64(n)
	}
	return n, err
}

// Sum returns the hex digest of what has been read so far
func (c *ChecksumReader) Sum() string {
	return hex.EncodeToString(c.hash.Sum(nil))
}

// Size returns the number of bytes read so far
func (c *ChecksumReader) Size() int64 {
	return c.n
}

// Checksum hashes a byte slice
func Checksum(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}
