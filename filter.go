package sevenzip

import (
	"bytes"
	"io"

	"github.com/pkg/errors"
)

// Result is the outcome of one Filter step.
type Result int

const (
	// Ok means the output buffer was filled and more output may follow.
	Ok Result = iota
	// End means the stream is finished.
	End
	// Error means decoding failed; Err reports why.
	Error
)

func (r Result) String() string {
	switch r {
	case Ok:
		return "ok"
	case End:
		return "end"
	case Error:
		return "error"
	}
	return "invalid"
}

// Filter is a push-input, pull-output streaming decompressor. The caller
// sets the whole input once, then repeatedly supplies an output buffer and
// calls Uncompress until it returns End or Error.
type Filter interface {
	Init() error
	SetInBuffer(p []byte)
	SetOutBuffer(p []byte)
	Uncompress() Result
	InBufferEmpty() bool
	OutBufferAvailable() int
	Err() error
	Terminate() error
}

// maxEmptyReads bounds consecutive reads returning no data and no error.
const maxEmptyReads = 100

// readerFilter adapts a decompressing io.Reader to Filter. The reader is
// built lazily over the input buffer by open.
type readerFilter struct {
	open func(r io.Reader) (io.Reader, error)
	in   *bytes.Reader
	r    io.Reader
	out  []byte
	n    int
	err  error
}

func newReaderFilter(open func(r io.Reader) (io.Reader, error)) *readerFilter {
	return &readerFilter{open: open}
}

func (f *readerFilter) Init() error {
	f.in, f.r, f.out, f.n, f.err = nil, nil, nil, 0, nil
	return nil
}

func (f *readerFilter) SetInBuffer(p []byte) {
	f.in = bytes.NewReader(p)
	f.r = nil
}

func (f *readerFilter) SetOutBuffer(p []byte) {
	f.out = p
	f.n = 0
}

func (f *readerFilter) Uncompress() Result {
	if f.err != nil {
		return Error
	}
	if f.r == nil {
		if f.in == nil {
			f.err = errors.New("no input buffer")
			return Error
		}
		r, err := f.open(f.in)
		if err != nil {
			f.err = err
			return Error
		}
		f.r = r
	}
	empty := 0
	for f.n < len(f.out) {
		m, err := f.r.Read(f.out[f.n:])
		f.n += m
		switch {
		case err == io.EOF:
			return End
		case err != nil:
			f.err = err
			return Error
		case m == 0:
			if empty++; empty >= maxEmptyReads {
				f.err = io.ErrNoProgress
				return Error
			}
		default:
			empty = 0
		}
	}
	return Ok
}

func (f *readerFilter) InBufferEmpty() bool {
	return f.in == nil || f.in.Len() == 0
}

func (f *readerFilter) OutBufferAvailable() int {
	return len(f.out) - f.n
}

func (f *readerFilter) Err() error {
	return f.err
}

func (f *readerFilter) Terminate() error {
	var err error
	if c, ok := f.r.(io.Closer); ok {
		err = c.Close()
	}
	f.r = nil
	return err
}
