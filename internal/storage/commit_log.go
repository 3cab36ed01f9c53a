package storage

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
)

// Note: the commit log is single-writer during normal operation, with
// readers only during recovery. These helpers do not coordinate concurrent
// writers; the commit log manager's writer goroutine owns the write handle.

// Write appends bytes to the given open file handle. Caller owns file lifecycle.
func Write(file *os.File, data []byte) error {
	writer := bufio.NewWriter(file)
	if _, err := writer.Write(data); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

// Read reads up to length bytes starting at offset. A short result means the
// file ended first.
func Read(file *os.File, offset int64, length int) ([]byte, error) {
	buf := make([]byte, length)
	n, err := file.ReadAt(buf, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read at %d: %w", offset, err)
	}
	return buf[:n], nil
}

// Size returns the current size of the file at path, or 0 when it does not exist.
func Size(path string) (int64, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", path, err)
	}
	return info.Size(), nil
}
