package protocol

import (
	"bytes"
	"fmt"
	"strconv"
)

// maxChunkLineSize bounds a chunk size line or a trailer line.
const maxChunkLineSize = 4 << 10

var (
	crlf              = []byte("\r\n")
	errMalformedChunk = fmt.Errorf("%w: malformed chunked body", ErrBadHandshake)
)

// chunkedDecoder decodes an HTTP/1.1 chunked body (RFC 9112, section 7.1)
// that arrives in arbitrary pieces.
type chunkedDecoder struct {
	left     int64 // data bytes left in the current chunk
	needCRLF bool  // chunk data read, its CRLF is not
	trailer  bool  // last chunk seen, reading the trailer section
}

// decode consumes the complete elements at the start of b. It returns the
// chunk data found, the number of bytes consumed and whether the end of the
// body was reached.
func (d *chunkedDecoder) decode(b []byte) (data []byte, n int, done bool, err error) {
	for {
		rest := b[n:]

		switch {
		case d.left > 0:
			if len(rest) == 0 {
				return data, n, false, nil
			}
			k := min(int64(len(rest)), d.left)
			data = append(data, rest[:k]...)
			n += int(k)
			d.left -= k
			d.needCRLF = d.left == 0

		case d.needCRLF:
			if len(rest) < 2 {
				return data, n, false, nil
			}
			if !bytes.HasPrefix(rest, crlf) {
				return data, n, false, errMalformedChunk
			}
			n += 2
			d.needCRLF = false

		default:
			i := bytes.Index(rest, crlf)
			if i < 0 {
				if len(rest) > maxChunkLineSize {
					return data, n, false, errMalformedChunk
				}
				return data, n, false, nil
			}
			line := rest[:i]
			n += i + 2

			if d.trailer {
				if len(line) == 0 {
					return data, n, true, nil
				}
				continue
			}

			size, err := parseChunkSize(line)
			if err != nil {
				return data, n, false, err
			}
			if size == 0 {
				d.trailer = true
			} else {
				d.left = size
			}
		}
	}
}

func parseChunkSize(line []byte) (int64, error) {
	if i := bytes.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}
	size, err := strconv.ParseInt(string(bytes.TrimSpace(line)), 16, 64)
	if err != nil || size < 0 {
		return 0, errMalformedChunk
	}
	return size, nil
}
