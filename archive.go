package sevenzip

import (
	"bytes"
	"context"
	"encoding/binary"
	"hash/crc32"
	"io"

	"github.com/pkg/errors"

	"textmodes.com/sevenzip/vfs"
)

const signatureHeaderSize = 32

var signature = [6]byte{'7', 'z', 0xBC, 0xAF, 0x27, 0x1C}

// Supported format versions.
const (
	majorVersion    = 0
	maxMinorVersion = 4
)

// Archive is a parsed 7z archive whose contents have been decoded into
// memory.
type Archive struct {
	// Major and Minor are the format version of the start header.
	Major, Minor byte

	// Files lists the entries in archive order.
	Files []File

	data []byte
	opts options
}

// NewReader parses the archive of size bytes read from r and decodes its
// contents.
func NewReader(r io.ReaderAt, size int64, opts ...Option) (*Archive, error) {
	return NewReaderContext(context.Background(), r, size, opts...)
}

// NewReaderContext is like NewReader but stops decoding folders once ctx is
// done.
func NewReaderContext(ctx context.Context, r io.ReaderAt, size int64, opts ...Option) (*Archive, error) {
	a := &Archive{opts: newOptions(opts)}
	if err := a.open(ctx, r, size); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Archive) decoder(r io.ReaderAt, size int64) *decoder {
	return &decoder{
		r:           r,
		size:        size,
		registry:    a.opts.registry,
		concurrency: a.opts.concurrency,
		maxUnpack:   a.opts.maxUnpackSize,
		log:         a.opts.log,
	}
}

func (a *Archive) open(ctx context.Context, r io.ReaderAt, size int64) error {
	log := a.opts.log
	if size < signatureHeaderSize {
		return errors.Wrapf(ErrTruncated, "%d bytes, start header needs %d", size, signatureHeaderSize)
	}
	var sh [signatureHeaderSize]byte
	if err := readAt(r, sh[:], 0); err != nil {
		return errors.Wrap(err, "reading start header")
	}
	if !bytes.Equal(sh[:6], signature[:]) {
		return errors.Wrapf(ErrSignature, "magic %x", sh[:6])
	}
	a.Major, a.Minor = sh[6], sh[7]
	if a.Major != majorVersion || a.Minor > maxMinorVersion {
		return errors.Wrapf(ErrVersion, "%d.%d", a.Major, a.Minor)
	}
	if crc32.ChecksumIEEE(sh[12:]) != binary.LittleEndian.Uint32(sh[8:]) {
		return errors.Wrap(ErrChecksum, "start header")
	}

	nextOffset := binary.LittleEndian.Uint64(sh[12:])
	nextSize := binary.LittleEndian.Uint64(sh[20:])
	nextCRC := binary.LittleEndian.Uint32(sh[28:])
	log.Debug().Uint8("major", a.Major).Uint8("minor", a.Minor).
		Uint64("header_offset", nextOffset).Uint64("header_size", nextSize).Msg("start header")

	if nextSize == 0 {
		return nil
	}
	if nextSize > 0xFFFFFFFF {
		return errors.Wrapf(ErrFormat, "header size %d", nextSize)
	}
	if nextSize > a.opts.maxHeaderSize {
		return errors.Wrapf(ErrUnsupported, "header size %d exceeds limit of %d bytes", nextSize, a.opts.maxHeaderSize)
	}
	avail := uint64(size - signatureHeaderSize)
	if nextOffset > avail || nextSize > avail-nextOffset {
		return errors.Wrapf(ErrTruncated, "header %d+%d beyond end of archive (%d bytes)", nextOffset, nextSize, size)
	}
	buf := make([]byte, nextSize)
	if err := readAt(r, buf, signatureHeaderSize+int64(nextOffset)); err != nil {
		return errors.Wrap(err, "reading header")
	}
	if crc32.ChecksumIEEE(buf) != nextCRC {
		return errors.Wrap(ErrChecksum, "header")
	}

	hr := newByteReader(buf)
	t, err := hr.readByte()
	if err != nil {
		return err
	}
	if t == idEncodedHeader {
		si, err := readStreamsInfo(hr)
		if err != nil {
			return errors.Wrap(err, "encoded header")
		}
		d := a.decoder(r, size)
		d.maxUnpack = a.opts.maxHeaderSize
		if buf, err = d.decode(ctx, si); err != nil {
			return errors.Wrap(err, "encoded header")
		}
		log.Debug().Int("size", len(buf)).Msg("decoded header")
		hr = newByteReader(buf)
		if t, err = hr.readByte(); err != nil {
			return err
		}
	}
	if t != idHeader {
		return errors.Wrapf(ErrFormat, "header starts with %s", propertyID(t))
	}

	si, err := a.readHeader(hr)
	if err != nil {
		return err
	}
	if len(a.Files) == 0 {
		return nil
	}

	if a.data, err = a.decoder(r, size).decode(ctx, si); err != nil {
		return err
	}
	return a.verify()
}

// readHeader reads the plain header following its kHeader tag.
func (a *Archive) readHeader(r *byteReader) (*streamsInfo, error) {
	t, err := r.readByte()
	if err != nil {
		return nil, err
	}
	switch t {
	case idArchiveProperties:
		return nil, errors.Wrap(ErrUnsupported, "archive properties")
	case idAdditionalStreamsInfo:
		return nil, errors.Wrap(ErrUnsupported, "additional streams")
	}

	si := new(streamsInfo)
	if t == idMainStreamsInfo {
		if si, err = readStreamsInfo(r); err != nil {
			return nil, errors.Wrap(err, "main streams info")
		}
		if t, err = r.readByte(); err != nil {
			return nil, err
		}
	}

	switch t {
	case idEnd:
		return si, nil
	case idFilesInfo:
		if a.Files, err = readFilesInfo(r, &si.sub, a.Minor > 2); err != nil {
			return nil, errors.Wrap(err, "files info")
		}
		if err := r.expect(idEnd); err != nil {
			return nil, errors.Wrap(err, "end of header")
		}
		a.opts.log.Debug().Int("files", len(a.Files)).Int("folders", len(si.folders)).Msg("header")
		return si, nil
	}
	return nil, errors.Wrapf(ErrFormat, "unexpected %s in header", propertyID(t))
}

// verify checks every file against the decoded data.
func (a *Archive) verify() error {
	for i := range a.Files {
		f := &a.Files[i]
		if !f.HasStream {
			continue
		}
		if f.Offset+int64(f.Size) > int64(len(a.data)) {
			return errors.Wrapf(ErrFormat, "%s: content %d+%d beyond decoded data (%d bytes)", f.Name, f.Offset, f.Size, len(a.data))
		}
		if f.CRCDefined && crc32.ChecksumIEEE(a.content(f)) != f.CRC {
			return errors.Wrapf(ErrChecksum, "%s", f.Name)
		}
	}
	return nil
}

func (a *Archive) content(f *File) []byte {
	return a.data[f.Offset : f.Offset+int64(f.Size)]
}

// Size returns the total size of the decoded contents.
func (a *Archive) Size() int64 {
	return int64(len(a.data))
}

// ReaderAt returns the decoded contents of all files, concatenated in
// archive order.
func (a *Archive) ReaderAt() io.ReaderAt {
	return bytes.NewReader(a.data)
}

// Open returns the content of f, which must be one of a.Files.
func (a *Archive) Open(f *File) io.ReadSeeker {
	if !f.HasStream {
		return bytes.NewReader(nil)
	}
	return bytes.NewReader(a.content(f))
}

// Fill adds every entry of the archive to t, in archive order. Entries are
// owned by the owner and group of the tree's root. Anti items are skipped.
func (a *Archive) Fill(t *vfs.Tree) error {
	for i := range a.Files {
		f := &a.Files[i]
		if f.IsAnti {
			continue
		}
		var (
			e   *vfs.Entry
			err error
		)
		if f.IsDir {
			e, err = t.AddDirectory(f.Name, f.Mode(), f.ModTime(), t.Owner(), t.Group())
		} else {
			e, err = t.AddFile(f.Name, f.Mode(), f.ModTime(), t.Owner(), t.Group(), f.Offset, int64(f.Size))
		}
		if err != nil {
			return errors.Wrapf(ErrFormat, "entry %d: %v", i, err)
		}
		e.SetSys(f)
	}
	t.SetData(a.ReaderAt())
	return nil
}
