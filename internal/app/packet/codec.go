package packet

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// DefaultMaxFrameBytes bounds a single encoded packet, newline excluded.
const DefaultMaxFrameBytes = 64 * 1024

// ErrFrameTooLarge is returned by Decoder.Decode when a line exceeds the configured limit.
var ErrFrameTooLarge = errors.New("packet frame too large")

// Encoder writes newline-delimited JSON packets. It is not safe for concurrent use;
// each connection owns exactly one.
type Encoder struct {
	w   *bufio.Writer
	buf bytes.Buffer
	enc *json.Encoder
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	e := &Encoder{w: bufio.NewWriter(w)}
	e.enc = json.NewEncoder(&e.buf)
	e.enc.SetEscapeHTML(false)
	return e
}

// Encode writes p followed by a newline and flushes.
func (e *Encoder) Encode(p Packet) error {
	e.buf.Reset()
	// json.Encoder terminates every value with '\n', which is the frame delimiter.
	if err := e.enc.Encode(p); err != nil {
		return fmt.Errorf("encode packet: %w", err)
	}
	if _, err := e.w.Write(e.buf.Bytes()); err != nil {
		return fmt.Errorf("write packet: %w", err)
	}
	if err := e.w.Flush(); err != nil {
		return fmt.Errorf("flush packet: %w", err)
	}
	return nil
}

// Decoder reads newline-delimited JSON packets.
type Decoder struct {
	r   *bufio.Reader
	max int
}

// NewDecoder returns a Decoder reading from r. maxFrame <= 0 selects DefaultMaxFrameBytes.
func NewDecoder(r io.Reader, maxFrame int) *Decoder {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrameBytes
	}
	return &Decoder{r: bufio.NewReaderSize(r, 4096), max: maxFrame}
}

// Decode reads the next packet. It returns io.EOF on a clean end of stream, and
// io.ErrUnexpectedEOF if the stream ends in the middle of a frame. Blank lines are skipped.
func (d *Decoder) Decode() (Packet, error) {
	for {
		line, err := d.readLine()
		if err != nil {
			return Packet{}, err
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		var p Packet
		if err := json.Unmarshal(line, &p); err != nil {
			return Packet{}, fmt.Errorf("decode packet: %w", err)
		}
		return p, nil
	}
}

func (d *Decoder) readLine() ([]byte, error) {
	var line []byte
	for {
		chunk, err := d.r.ReadSlice('\n')
		if len(line)+len(chunk) > d.max+1 {
			return nil, fmt.Errorf("%w: more than %d bytes", ErrFrameTooLarge, d.max)
		}
		line = append(line, chunk...)

		switch {
		case err == nil:
			return line, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if len(bytes.TrimSpace(line)) == 0 {
				return nil, io.EOF
			}
			return nil, io.ErrUnexpectedEOF
		default:
			return nil, err
		}
	}
}
