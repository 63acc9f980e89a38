package transfer

import (
	"io"
	"os"
)

// Chunker gives random/sequential access to a file as fixed-size chunks,
// computing chunk offsets the same way a reliable chunked-transfer sender
// and receiver need to agree on them.
type Chunker struct {
	file        *os.File
	chunkSize   int64
	fileSize    int64
	totalChunks int64
	nextChunk   int64
}

// OpenChunkerForRead opens path for reading and computes total_chunks.
func OpenChunkerForRead(path string, chunkSize int64) (*Chunker, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, classifyRaw(err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, classifyRaw(err)
	}
	size := info.Size()
	total := (size + chunkSize - 1) / chunkSize
	if size == 0 {
		total = 0
	}
	return &Chunker{file: f, chunkSize: chunkSize, fileSize: size, totalChunks: total}, nil
}

// OpenChunkerForWrite creates (truncating) path for writing.
func OpenChunkerForWrite(path string, chunkSize int64) (*Chunker, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, classifyRaw(err)
	}
	return &Chunker{file: f, chunkSize: chunkSize}, nil
}

func (c *Chunker) Close() error { return c.file.Close() }

func (c *Chunker) FileSize() int64    { return c.fileSize }
func (c *Chunker) TotalChunks() int64 { return c.totalChunks }

// ReadChunk seeks to i*chunkSize and returns exactly min(chunkSize, remaining) bytes.
func (c *Chunker) ReadChunk(i int64) ([]byte, error) {
	if i < 0 || i >= c.totalChunks {
		return nil, New(CodeProtocolError, false, "chunk index out of range", nil)
	}
	offset := i * c.chunkSize
	remaining := c.fileSize - offset
	size := c.chunkSize
	if remaining < size {
		size = remaining
	}
	if _, err := c.file.Seek(offset, io.SeekStart); err != nil {
		return nil, classifyRaw(err)
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(c.file, buf); err != nil {
		return nil, classifyRaw(err)
	}
	return buf, nil
}

// ReadNext returns the next chunk in sequential order, or io.EOF when exhausted.
func (c *Chunker) ReadNext() ([]byte, error) {
	if c.nextChunk >= c.totalChunks {
		return nil, io.EOF
	}
	data, err := c.ReadChunk(c.nextChunk)
	if err != nil {
		return nil, err
	}
	c.nextChunk++
	return data, nil
}

// WriteChunk seeks to i*chunkSize, writes data, and flushes.
func (c *Chunker) WriteChunk(i int64, data []byte) error {
	offset := i * c.chunkSize
	if _, err := c.file.Seek(offset, io.SeekStart); err != nil {
		return classifyRaw(err)
	}
	if _, err := c.file.Write(data); err != nil {
		return classifyRaw(err)
	}
	return classifyRawOrNil(c.file.Sync())
}

// WriteSequential appends data at the current write position (datagram engine).
func (c *Chunker) WriteSequential(data []byte) (int, error) {
	n, err := c.file.Write(data)
	if err != nil {
		return n, classifyRaw(err)
	}
	return n, nil
}

func classifyRawOrNil(err error) error {
	if err == nil {
		return nil
	}
	return classifyRaw(err)
}
