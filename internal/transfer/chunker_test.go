package transfer

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func writeTempFile(t *testing.T, dir string, size int) string {
	t.Helper()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	path := filepath.Join(dir, "input.bin")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestChunkerBoundarySizes(t *testing.T) {
	const chunkSize = 64
	sizes := []int{0, 1, chunkSize - 1, chunkSize, chunkSize + 1, chunkSize * 3}

	for _, size := range sizes {
		dir := t.TempDir()
		path := writeTempFile(t, dir, size)

		c, err := OpenChunkerForRead(path, chunkSize)
		if err != nil {
			t.Fatalf("size %d: open: %v", size, err)
		}

		wantChunks := int64(0)
		if size > 0 {
			wantChunks = (int64(size) + chunkSize - 1) / chunkSize
		}
		if c.TotalChunks() != wantChunks {
			t.Errorf("size %d: TotalChunks() = %d, want %d", size, c.TotalChunks(), wantChunks)
		}

		var reassembled []byte
		for {
			chunk, rerr := c.ReadNext()
			if rerr != nil {
				break
			}
			reassembled = append(reassembled, chunk...)
		}
		want, _ := os.ReadFile(path)
		if !bytes.Equal(reassembled, want) {
			t.Errorf("size %d: reassembled data mismatch (got %d bytes, want %d)", size, len(reassembled), len(want))
		}
		c.Close()
	}
}

func TestChunkerReadChunkOutOfRange(t *testing.T) {
	dir := t.TempDir()
	path := writeTempFile(t, dir, 10)
	c, err := OpenChunkerForRead(path, 64)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer c.Close()
	if _, err := c.ReadChunk(5); err == nil {
		t.Fatal("expected error reading out-of-range chunk, got nil")
	}
}

func TestChunkerWriteChunkRandomOrder(t *testing.T) {
	dir := t.TempDir()
	outPath := filepath.Join(dir, "out.bin")
	c, err := OpenChunkerForWrite(outPath, 4)
	if err != nil {
		t.Fatalf("open for write: %v", err)
	}

	if err := c.WriteChunk(1, []byte("BBBB")); err != nil {
		t.Fatalf("write chunk 1: %v", err)
	}
	if err := c.WriteChunk(0, []byte("AAAA")); err != nil {
		t.Fatalf("write chunk 0: %v", err)
	}
	c.Close()

	got, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(got) != "AAAABBBB" {
		t.Errorf("got %q, want %q", got, "AAAABBBB")
	}
}

func TestChunkerWriteSequentialAppends(t *testing.T) {
	dir := t.TempDir()
	outPath := filepath.Join(dir, "seq.bin")
	c, err := OpenChunkerForWrite(outPath, 4)
	if err != nil {
		t.Fatalf("open for write: %v", err)
	}
	if _, err := c.WriteSequential([]byte("foo")); err != nil {
		t.Fatalf("write seq 1: %v", err)
	}
	if _, err := c.WriteSequential([]byte("bar")); err != nil {
		t.Fatalf("write seq 2: %v", err)
	}
	c.Close()

	got, _ := os.ReadFile(outPath)
	if string(got) != "foobar" {
		t.Errorf("got %q, want %q", got, "foobar")
	}
}
