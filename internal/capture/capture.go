// Package capture records raw bridge frames to disk and reads them back.
//
// A capture file starts with an 8 byte magic, followed by records of
// timestamp (uint64 unix nanos), frame type (1 byte, 1 for binary) and
// payload length (uint32), all little endian, then the payload.
package capture

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	Magic      = "RDCAP001"
	headerSize = 13
	// MaxPayload bounds a single record on read.
	MaxPayload = 256 << 20
)

var ErrBadMagic = errors.New("not a capture file")

type Record struct {
	Time    time.Time
	Binary  bool
	Payload []byte
}

type Writer struct {
	mu   sync.Mutex
	path string
	f    *os.File
	w    *bufio.Writer
}

// NewWriter creates a timestamped capture file in dir.
func NewWriter(dir, prefix string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	timestamp := time.Now().Format("20060102_150405")
	path := filepath.Join(dir, fmt.Sprintf("%s_%s.bin", timestamp, prefix))
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := bufio.NewWriterSize(f, 1024*1024)
	if _, err := w.WriteString(Magic); err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Writer{path: path, f: f, w: w}, nil
}

func (c *Writer) Path() string { return c.path }

// Record appends one frame. It is safe for concurrent use.
func (c *Writer) Record(isBinary bool, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.w == nil {
		return errors.New("capture writer is closed")
	}
	var header [headerSize]byte
	binary.LittleEndian.PutUint64(header[:8], uint64(time.Now().UnixNano()))
	if isBinary {
		header[8] = 1
	}
	binary.LittleEndian.PutUint32(header[9:13], uint32(len(payload)))
	if _, err := c.w.Write(header[:]); err != nil {
		return err
	}
	if _, err := c.w.Write(payload); err != nil {
		return err
	}
	return c.w.Flush()
}

func (c *Writer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.w == nil {
		return nil
	}
	err := c.w.Flush()
	if cerr := c.f.Close(); err == nil {
		err = cerr
	}
	c.w = nil
	return err
}

type Reader struct {
	r io.Reader
}

// NewReader checks the magic and positions r at the first record.
func NewReader(r io.Reader) (*Reader, error) {
	magic := make([]byte, len(Magic))
	if _, err := io.ReadFull(r, magic); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrBadMagic
		}
		return nil, err
	}
	if string(magic) != Magic {
		return nil, ErrBadMagic
	}
	return &Reader{r: r}, nil
}

// Next returns the next record, or io.EOF after the last one. A truncated
// final record is reported as io.ErrUnexpectedEOF.
func (c *Reader) Next() (Record, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(c.r, header[:]); err != nil {
		return Record{}, err
	}
	size := binary.LittleEndian.Uint32(header[9:13])
	if size > MaxPayload {
		return Record{}, fmt.Errorf("capture record of %d bytes exceeds limit", size)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(c.r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return Record{}, err
	}
	return Record{
		Time:    time.Unix(0, int64(binary.LittleEndian.Uint64(header[:8]))),
		Binary:  header[8] == 1,
		Payload: payload,
	}, nil
}
