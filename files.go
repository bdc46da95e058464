package sevenzip

import (
	"github.com/pkg/errors"
)

// filesInfo holds the raw property vectors of a files info block.
type filesInfo struct {
	numFiles    int
	emptyStream []bool
	emptyFile   []bool
	anti        []bool
	names       []string
	attrDefined []bool
	attributes  []uint32
	ctimes      []uint64
	atimes      []uint64
	mtimes      []uint64
	startPos    []uint64
}

// readFilesInfo reads a files info block and assembles File records,
// taking sizes and CRCs of non-empty files from ss in order. checkSizes
// enables the record size consistency check of newer format versions.
func readFilesInfo(r *byteReader, ss *subStreams, checkSizes bool) ([]File, error) {
	// Every file either owns a substream or has a bit in the empty stream
	// vector.
	n, err := r.readInt("file count", minInt(maxItems, len(ss.sizes)+8*r.remaining()))
	if err != nil {
		return nil, err
	}
	fi := &filesInfo{numFiles: n}

	numEmpty := 0
	for {
		t, err := r.readByte()
		if err != nil {
			return nil, err
		}
		if t == idEnd {
			break
		}
		size, err := r.readNumber()
		if err != nil {
			return nil, err
		}
		if size > uint64(r.remaining()) {
			return nil, errors.Wrapf(ErrTruncated, "property %s: size %d exceeds header", propertyID(t), size)
		}
		start := r.pos

		switch t {
		case idEmptyStream:
			if fi.emptyStream, err = r.readBoolVector(n); err != nil {
				return nil, err
			}
			numEmpty = 0
			for _, e := range fi.emptyStream {
				if e {
					numEmpty++
				}
			}
		case idEmptyFile:
			fi.emptyFile, err = r.readBoolVector(numEmpty)
		case idAnti:
			fi.anti, err = r.readBoolVector(numEmpty)
		case idCTime:
			_, fi.ctimes, err = r.readUint64DefVector(n)
		case idATime:
			_, fi.atimes, err = r.readUint64DefVector(n)
		case idMTime:
			_, fi.mtimes, err = r.readUint64DefVector(n)
		case idStartPos:
			_, fi.startPos, err = r.readUint64DefVector(n)
		case idName:
			err = fi.readNames(r)
		case idWinAttributes:
			err = fi.readAttributes(r)
		case idDummy:
			for i := uint64(0); i < size; i++ {
				b, err := r.readByte()
				if err != nil {
					return nil, err
				}
				if b != 0 {
					return nil, errors.Wrapf(ErrFormat, "non-zero padding at offset %d", r.pos-1)
				}
			}
		default:
			err = r.skip(size)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "property %s", propertyID(t))
		}

		if checkSizes && uint64(r.pos-start) != size {
			return nil, errors.Wrapf(ErrFormat, "property %s: read %d bytes, record size %d", propertyID(t), r.pos-start, size)
		}
	}

	return fi.assemble(ss)
}

func (fi *filesInfo) readNames(r *byteReader) error {
	if err := r.readExternal(); err != nil {
		return err
	}
	fi.names = make([]string, fi.numFiles)
	for i := range fi.names {
		s, err := r.readString()
		if err != nil {
			return errors.Wrapf(err, "name %d", i)
		}
		fi.names[i] = s
	}
	return nil
}

func (fi *filesInfo) readAttributes(r *byteReader) error {
	defined, err := r.readBoolVector2(fi.numFiles)
	if err != nil {
		return err
	}
	if err := r.readExternal(); err != nil {
		return err
	}
	fi.attrDefined = defined
	fi.attributes = make([]uint32, fi.numFiles)
	for i := range fi.attributes {
		if !defined[i] {
			continue
		}
		if fi.attributes[i], err = r.readUint32(); err != nil {
			return err
		}
	}
	return nil
}

// assemble correlates the property vectors with the substream tables.
func (fi *filesInfo) assemble(ss *subStreams) ([]File, error) {
	files := make([]File, fi.numFiles)
	folderOf := make([]int, 0, len(ss.sizes))
	for i, n := range ss.counts {
		for j := 0; j < n; j++ {
			folderOf = append(folderOf, i)
		}
	}
	var (
		sizeIndex  int
		emptyIndex int
		offset     int64
	)
	for i := range files {
		f := &files[i]
		if fi.names != nil {
			f.Name = fi.names[i]
		}
		f.HasStream = fi.emptyStream == nil || !fi.emptyStream[i]
		if f.HasStream {
			if sizeIndex >= len(ss.sizes) {
				return nil, errors.Wrapf(ErrFormat, "file %d: no substream left (%d streams)", i, len(ss.sizes))
			}
			f.Size = ss.sizes[sizeIndex]
			f.CRC = ss.crcs[sizeIndex]
			f.CRCDefined = ss.crcDefined[sizeIndex]
			f.Folder = folderOf[sizeIndex]
			sizeIndex++
		} else {
			f.Folder = -1
			f.IsDir = !bit(fi.emptyFile, emptyIndex)
			f.IsAnti = bit(fi.anti, emptyIndex)
			emptyIndex++
		}

		if fi.attrDefined != nil && fi.attrDefined[i] {
			f.AttribDefined = true
			f.Attributes = fi.attributes[i]
			if f.Attributes&AttrDirectory != 0 {
				f.IsDir = true
			}
		}
		if fi.ctimes != nil {
			f.CTime = Filetime(fi.ctimes[i])
		}
		if fi.atimes != nil {
			f.ATime = Filetime(fi.atimes[i])
		}
		if fi.mtimes != nil {
			f.MTime = Filetime(fi.mtimes[i])
		}
		if fi.startPos != nil {
			f.StartPos = fi.startPos[i]
		}

		f.Offset = offset
		if f.HasStream {
			if int64(f.Size) < 0 || offset+int64(f.Size) < offset {
				return nil, errors.Wrapf(ErrFormat, "file %d: size %d overflows", i, f.Size)
			}
			offset += int64(f.Size)
		}
	}
	if sizeIndex != len(ss.sizes) {
		return nil, errors.Wrapf(ErrFormat, "%d substreams for %d non-empty files", len(ss.sizes), sizeIndex)
	}
	return files, nil
}

// bit returns v[i], treating a missing vector or index as false.
func bit(v []bool, i int) bool {
	return i < len(v) && v[i]
}
