package journal

import (
	"bufio"
	"io"
)

const readBufferSize = 64 * 1024

// bufReader splits its input into '\n'-terminated lines of any length.
type bufReader struct {
	br  *bufio.Reader
	buf []byte
}

func newBufReader(r io.Reader) *bufReader {
	return &bufReader{br: bufio.NewReaderSize(r, readBufferSize)}
}

// readLine returns the next line without its terminator. At the end of input
// it returns io.EOF together with any unterminated trailing bytes.
func (b *bufReader) readLine() ([]byte, error) {
	b.buf = b.buf[:0]
	for {
		chunk, err := b.br.ReadSlice('\n')
		b.buf = append(b.buf, chunk...)
		switch err {
		case nil:
			return b.buf[:len(b.buf)-1], nil
		case bufio.ErrBufferFull:
			continue
		default:
			return b.buf, err
		}
	}
}
