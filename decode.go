package sevenzip

import (
	"context"
	"hash/crc32"
	"io"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// maxChunk bounds the output buffer handed to a Filter per step.
const maxChunk = 1 << 20

// folderJob is a folder whose packed input has been read from the archive.
type folderJob struct {
	index      int
	folder     *folder
	packed     []byte
	unpackSize uint64
}

// decoder materializes the output of the folders of a streams info block.
type decoder struct {
	r           io.ReaderAt
	size        int64
	registry    *Registry
	concurrency int
	maxUnpack   uint64
	log         zerolog.Logger
}

// decode returns the concatenated output of all folders of si, in folder
// order. Packed regions are read sequentially before any folder is decoded;
// folders are then decoded by up to d.concurrency workers. When several
// folders fail the error of the lowest indexed one is returned.
func (d *decoder) decode(ctx context.Context, si *streamsInfo) ([]byte, error) {
	jobs, err := d.plan(si)
	if err != nil {
		return nil, err
	}

	outs := make([][]byte, len(jobs))
	errs := make([]error, len(jobs))
	// A failing folder does not cancel the others, so the reported error
	// does not depend on scheduling.
	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for i := range jobs {
		job := &jobs[i]
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[job.index] = err
				return err
			}
			outs[job.index], errs[job.index] = d.decodeFolder(job)
			return errs[job.index]
		})
	}
	if g.Wait() != nil {
		for _, err := range errs {
			if err != nil {
				return nil, err
			}
		}
	}

	n := 0
	for _, out := range outs {
		n += len(out)
	}
	data := make([]byte, 0, n)
	for _, out := range outs {
		data = append(data, out...)
	}
	return data, nil
}

// plan validates every folder, locates its packed stream and reads it.
func (d *decoder) plan(si *streamsInfo) ([]folderJob, error) {
	if si.pack.pos > uint64(d.size) {
		return nil, errors.Wrapf(ErrTruncated, "pack position %d beyond end of archive", si.pack.pos)
	}
	offset := signatureHeaderSize + int64(si.pack.pos)
	packIndex := 0

	var total uint64
	jobs := make([]folderJob, len(si.folders))
	for i := range si.folders {
		f := &si.folders[i]
		if err := d.supported(f); err != nil {
			return nil, errors.Wrapf(err, "folder %d", i)
		}
		unpackSize, err := f.unpackSize()
		if err != nil {
			return nil, errors.Wrapf(err, "folder %d", i)
		}
		if total += unpackSize; total < unpackSize || total > d.maxUnpack {
			return nil, errors.Wrapf(ErrUnsupported, "folder %d: decoded size exceeds limit of %d bytes", i, d.maxUnpack)
		}

		if packIndex >= len(si.pack.sizes) {
			return nil, errors.Wrapf(ErrFormat, "folder %d: no pack stream left (%d streams)", i, len(si.pack.sizes))
		}
		packSize := si.pack.sizes[packIndex]
		if packSize > uint64(d.size) || offset > d.size-int64(packSize) {
			return nil, errors.Wrapf(ErrTruncated, "folder %d: pack stream %d+%d beyond end of archive (%d bytes)", i, offset, packSize, d.size)
		}
		packed := make([]byte, packSize)
		if err := readAt(d.r, packed, offset); err != nil {
			return nil, errors.Wrapf(err, "folder %d: reading pack stream at %d", i, offset)
		}
		if si.pack.crcDefined[packIndex] && crc32.ChecksumIEEE(packed) != si.pack.crcs[packIndex] {
			return nil, errors.Wrapf(ErrChecksum, "folder %d: pack stream %d", i, packIndex)
		}
		d.log.Debug().Int("folder", i).Int64("offset", offset).Uint64("packed", packSize).
			Uint64("unpacked", unpackSize).Msg("read pack stream")

		jobs[i] = folderJob{index: i, folder: f, packed: packed, unpackSize: unpackSize}
		offset += int64(packSize)
		packIndex += len(f.packedStreams)
	}
	return jobs, nil
}

// supported reports whether f is a coder graph this reader can decode: a
// single coder with one input and one output fed by one packed stream.
func (d *decoder) supported(f *folder) error {
	if len(f.coders) != 1 {
		return errors.Wrapf(ErrUnsupported, "%d coders", len(f.coders))
	}
	c := &f.coders[0]
	if c.numIn != 1 || c.numOut != 1 {
		return errors.Wrapf(ErrUnsupported, "coder with %d inputs and %d outputs", c.numIn, c.numOut)
	}
	if len(f.packedStreams) != 1 {
		return errors.Wrapf(ErrUnsupported, "%d packed streams", len(f.packedStreams))
	}
	if _, ok := d.registry.Lookup(c.method); !ok {
		return errors.Wrapf(ErrUnsupported, "coder method %s", methodName(c.method))
	}
	return nil
}

// decodeFolder drives the folder's Filter until it reports the end of the
// stream and verifies the result against the declared size and CRC. The
// stream must consume the whole pack stream. Output grows with what the
// filter produces, never ahead of it from the declared size.
func (d *decoder) decodeFolder(job *folderJob) ([]byte, error) {
	c := &job.folder.coders[0]
	filter, err := d.registry.NewFilter(c.method, c.properties, job.unpackSize)
	if err != nil {
		return nil, errors.Wrapf(err, "folder %d", job.index)
	}
	if err := filter.Init(); err != nil {
		return nil, errors.Wrapf(ErrDecode, "folder %d: init: %v", job.index, err)
	}
	defer filter.Terminate()

	filter.SetInBuffer(job.packed)
	chunk := make([]byte, chunkSize(job.unpackSize))
	out := make([]byte, 0, len(chunk))
	result := Ok
	for result == Ok {
		filter.SetOutBuffer(chunk)
		result = filter.Uncompress()
		if result == Error {
			return nil, errors.Wrapf(ErrDecode, "folder %d: %v", job.index, filter.Err())
		}
		out = append(out, chunk[:len(chunk)-filter.OutBufferAvailable()]...)
		if uint64(len(out)) > job.unpackSize {
			return nil, errors.Wrapf(ErrDecode, "folder %d: more than %d bytes of output", job.index, job.unpackSize)
		}
	}
	if uint64(len(out)) != job.unpackSize {
		return nil, errors.Wrapf(ErrDecode, "folder %d: decoded %d bytes, want %d", job.index, len(out), job.unpackSize)
	}
	if !filter.InBufferEmpty() {
		return nil, errors.Wrapf(ErrDecode, "folder %d: pack stream continues after end of stream", job.index)
	}
	if job.folder.crcDefined && crc32.ChecksumIEEE(out) != job.folder.crc {
		return nil, errors.Wrapf(ErrChecksum, "folder %d", job.index)
	}
	d.log.Debug().Int("folder", job.index).Int("bytes", len(out)).Msg("decoded folder")
	return out, nil
}

// readAt fills p from r at off. A full read is success even when r reports
// io.EOF alongside it.
func readAt(r io.ReaderAt, p []byte, off int64) error {
	n, err := r.ReadAt(p, off)
	switch {
	case n == len(p):
		return nil
	case err == nil, err == io.EOF, err == io.ErrUnexpectedEOF:
		return errors.Wrapf(ErrTruncated, "read %d of %d bytes at %d", n, len(p), off)
	}
	return err
}

func chunkSize(n uint64) int {
	switch {
	case n == 0:
		return 1
	case n > maxChunk:
		return maxChunk
	}
	return int(n)
}
