package broker

import (
	"bufio"
	"errors"
	"io"
)

const readBufferSize = 64 << 10

var errLineTooLong = errors.New("line exceeds maximum length")

// readLoop turns a module's output stream into events, one per line. It
// returns after reporting end-of-stream or when the loop has stopped.
func (b *Broker) readLoop(name string, r io.Reader) {
	defer b.readers.Done()

	br := bufio.NewReaderSize(r, readBufferSize)
	for {
		line, err := readLine(br, b.cfg.MaxLineBytes)
		switch {
		case err == nil:
			if !b.send(event{kind: eventLine, module: name, line: line}) {
				return
			}
			continue
		case errors.Is(err, errLineTooLong):
			if !b.send(event{kind: eventTooLong, module: name}) {
				return
			}
			continue
		}

		if len(line) > 0 {
			if !b.send(event{kind: eventTruncated, module: name, line: line}) {
				return
			}
		}
		if errors.Is(err, io.EOF) {
			err = nil
		}
		b.send(event{kind: eventClosed, module: name, err: err})
		return
	}
}

// send hands an event to the loop, giving up once the loop has stopped
func (b *Broker) send(ev event) bool {
	select {
	case b.events <- ev:
		return true
	case <-b.stop:
		return false
	}
}

// readLine reads one newline-terminated line of at most max bytes, newline
// included. An oversized line is consumed and reported as errLineTooLong. At
// end-of-stream any unterminated remainder is returned with the error.
func readLine(br *bufio.Reader, max int) ([]byte, error) {
	var line []byte
	tooLong := false
	for {
		chunk, err := br.ReadSlice('\n')
		if !tooLong {
			if len(line)+len(chunk) > max {
				tooLong = true
				line = nil
			} else {
				line = append(line, chunk...)
			}
		}

		switch {
		case err == nil:
			if tooLong {
				return nil, errLineTooLong
			}
			return line, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		default:
			if tooLong {
				return nil, err
			}
			return line, err
		}
	}
}
