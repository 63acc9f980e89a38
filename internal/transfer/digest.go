package transfer

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
)

// digestBufferSize is the streaming buffer size used while hashing.
const digestBufferSize = 64 * 1024

// DigestFile streams a file's contents through SHA-256 with a 64 KiB buffer
// rather than loading the whole file into memory.
func DigestFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", classifyRaw(err)
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, digestBufferSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", classifyRaw(err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// DigestBytes computes the SHA-256 hex digest of a byte slice.
func DigestBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
