package vfs

import (
	"io"

	"github.com/pkg/errors"
)

// Reopen returns a ReadSeekCloser over a stream of size bytes that can only
// be read sequentially, such as a compressed archive member. Seeking forward
// discards data; seeking backward closes the stream, calls open again and
// skips to the new position.
func Reopen(name string, size int64, open func() (io.ReadCloser, error)) (ReadSeekCloser, error) {
	rc, err := open()
	if err != nil {
		return nil, err
	}
	return &reopener{name: name, size: size, open: open, rc: rc}, nil
}

type reopener struct {
	name string
	size int64
	pos  int64
	open func() (io.ReadCloser, error)
	rc   io.ReadCloser
}

func (r *reopener) Read(p []byte) (int, error) {
	if r.rc == nil {
		return 0, errors.Errorf("%s: read after close", r.name)
	}
	n, err := r.rc.Read(p)
	r.pos += int64(n)
	return n, err
}

func (r *reopener) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = r.pos + offset
	case io.SeekEnd:
		abs = r.size + offset
	default:
		return r.pos, errors.Errorf("%s: invalid whence %d", r.name, whence)
	}
	if abs < 0 {
		return r.pos, errors.Errorf("%s: negative position %d", r.name, abs)
	}

	if abs < r.pos || r.rc == nil {
		Tracef(nil, "%s: reopen to seek from %d to %d", r.name, r.pos, abs)
		rc, err := r.open()
		if err != nil {
			return r.pos, err
		}
		if r.rc != nil {
			r.rc.Close()
		}
		r.rc, r.pos = rc, 0
	}
	if abs > r.pos {
		n, err := io.CopyN(io.Discard, r.rc, abs-r.pos)
		r.pos += n
		if err != nil && err != io.EOF {
			return r.pos, err
		}
		// Past the end; reads return io.EOF.
		r.pos = abs
	}
	return r.pos, nil
}

func (r *reopener) Close() error {
	if r.rc == nil {
		return nil
	}
	err := r.rc.Close()
	r.rc = nil
	return err
}
