package sevenzip

import (
	"github.com/pkg/errors"
)

const (
	maxCoders      = 64
	maxCoderStream = 64
)

// readStreamsInfo reads a streams info block up to and including its end
// marker. Without a substreams block each folder holds one substream.
func readStreamsInfo(r *byteReader) (*streamsInfo, error) {
	si := new(streamsInfo)
	haveSub := false
	for {
		t, err := r.readByte()
		if err != nil {
			return nil, err
		}
		switch t {
		case idEnd:
			if !haveSub {
				if si.sub, err = defaultSubStreams(si.folders); err != nil {
					return nil, err
				}
			}
			return si, nil
		case idPackInfo:
			if err := readPackInfo(r, &si.pack); err != nil {
				return nil, errors.Wrap(err, "pack info")
			}
		case idUnpackInfo:
			if si.folders, err = readUnpackInfo(r); err != nil {
				return nil, errors.Wrap(err, "unpack info")
			}
		case idSubStreamsInfo:
			if si.sub, err = readSubStreamsInfo(r, si.folders); err != nil {
				return nil, errors.Wrap(err, "substreams info")
			}
			haveSub = true
		default:
			if err := r.skipData(); err != nil {
				return nil, err
			}
		}
	}
}

func readPackInfo(r *byteReader, pi *packInfo) error {
	var err error
	if pi.pos, err = r.readNumber(); err != nil {
		return err
	}
	n, err := r.readInt("pack stream count", minInt(maxItems, r.remaining()))
	if err != nil {
		return err
	}

	found, err := r.findAttribute(idSize)
	if err != nil {
		return err
	}
	if !found {
		return errors.Wrap(ErrFormat, "missing pack sizes")
	}
	pi.sizes = make([]uint64, n)
	for i := range pi.sizes {
		if pi.sizes[i], err = r.readNumber(); err != nil {
			return err
		}
	}

	for {
		t, err := r.readByte()
		if err != nil {
			return err
		}
		switch t {
		case idEnd:
			if pi.crcDefined == nil {
				pi.crcDefined = make([]bool, n)
				pi.crcs = make([]uint32, n)
			}
			return nil
		case idCRC:
			if pi.crcDefined, pi.crcs, err = r.readDigests(n); err != nil {
				return err
			}
		default:
			if err := r.skipData(); err != nil {
				return err
			}
		}
	}
}

func readUnpackInfo(r *byteReader) ([]folder, error) {
	found, err := r.findAttribute(idFolder)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.Wrap(ErrFormat, "missing folders")
	}

	n, err := r.readInt("folder count", minInt(maxItems, r.remaining()))
	if err != nil {
		return nil, err
	}
	if err := r.readExternal(); err != nil {
		return nil, err
	}
	folders := make([]folder, n)
	for i := range folders {
		if err := readFolder(r, &folders[i]); err != nil {
			return nil, errors.Wrapf(err, "folder %d", i)
		}
	}

	if found, err = r.findAttribute(idCodersUnpackSize); err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.Wrap(ErrFormat, "missing coder unpack sizes")
	}
	for i := range folders {
		f := &folders[i]
		f.unpackSizes = make([]uint64, f.numOutStreams())
		for j := range f.unpackSizes {
			if f.unpackSizes[j], err = r.readNumber(); err != nil {
				return nil, err
			}
		}
	}

	for {
		t, err := r.readByte()
		if err != nil {
			return nil, err
		}
		switch t {
		case idEnd:
			return folders, nil
		case idCRC:
			defined, crcs, err := r.readDigests(n)
			if err != nil {
				return nil, err
			}
			for i := range folders {
				folders[i].crcDefined = defined[i]
				folders[i].crc = crcs[i]
			}
		default:
			if err := r.skipData(); err != nil {
				return nil, err
			}
		}
	}
}

// readFolder reads one coder graph.
func readFolder(r *byteReader, f *folder) error {
	numCoders, err := r.readInt("coder count", maxCoders)
	if err != nil {
		return err
	}
	if numCoders == 0 {
		return errors.Wrap(ErrFormat, "folder without coders")
	}

	f.coders = make([]coder, numCoders)
	for i := range f.coders {
		c := &f.coders[i]
		// bits 0-3: id size, 4: complex coder, 5: has properties,
		// 7: alternative methods follow.
		flags, err := r.readByte()
		if err != nil {
			return err
		}
		idSize := int(flags & 0x0f)
		if idSize > 8 {
			return errors.Wrapf(ErrFormat, "coder id size %d", idSize)
		}
		id, err := r.readBytes(idSize)
		if err != nil {
			return err
		}
		for _, b := range id {
			c.method = c.method<<8 | uint64(b)
		}

		if flags&0x10 != 0 {
			if c.numIn, err = r.readInt("coder input streams", maxCoderStream); err != nil {
				return err
			}
			if c.numOut, err = r.readInt("coder output streams", maxCoderStream); err != nil {
				return err
			}
		} else {
			c.numIn, c.numOut = 1, 1
		}

		if flags&0x20 != 0 {
			size, err := r.readInt("coder properties size", r.remaining())
			if err != nil {
				return err
			}
			if c.properties, err = r.readBytes(size); err != nil {
				return err
			}
		}

		if flags&0x80 != 0 {
			return errors.Wrap(ErrUnsupported, "alternative coder methods")
		}
	}

	numIn, numOut := f.numInStreams(), f.numOutStreams()
	if numOut == 0 {
		return errors.Wrap(ErrFormat, "folder without output streams")
	}

	numBindPairs := numOut - 1
	f.bindPairs = make([]bindPair, numBindPairs)
	for i := range f.bindPairs {
		bp := &f.bindPairs[i]
		if bp.in, err = r.readNumber(); err != nil {
			return err
		}
		if bp.out, err = r.readNumber(); err != nil {
			return err
		}
		if bp.in >= uint64(numIn) || bp.out >= uint64(numOut) {
			return errors.Wrapf(ErrFormat, "bind pair %d (%d, %d) out of range", i, bp.in, bp.out)
		}
	}

	if numIn < numBindPairs {
		return errors.Wrapf(ErrFormat, "%d input streams for %d bind pairs", numIn, numBindPairs)
	}
	numPacked := numIn - numBindPairs
	switch {
	case numPacked > 1:
		f.packedStreams = make([]uint64, numPacked)
		for i := range f.packedStreams {
			if f.packedStreams[i], err = r.readNumber(); err != nil {
				return err
			}
			if f.packedStreams[i] >= uint64(numIn) {
				return errors.Wrapf(ErrFormat, "packed stream index %d out of range", f.packedStreams[i])
			}
		}
	case numPacked == 1:
		// The single packed stream is the one input not fed by a coder.
		for i := uint64(0); i < uint64(numIn); i++ {
			bound := false
			for _, bp := range f.bindPairs {
				if bp.in == i {
					bound = true
					break
				}
			}
			if !bound {
				f.packedStreams = append(f.packedStreams, i)
			}
		}
		if len(f.packedStreams) != 1 {
			return errors.Wrapf(ErrFormat, "%d unbound input streams, want 1", len(f.packedStreams))
		}
	default:
		return errors.Wrap(ErrFormat, "folder without packed streams")
	}
	return nil
}

func readSubStreamsInfo(r *byteReader, folders []folder) (subStreams, error) {
	var (
		ss  subStreams
		t   byte
		err error
	)
	for {
		if t, err = r.readByte(); err != nil {
			return ss, err
		}
		if t == idNumUnpackStream {
			ss.counts = make([]int, len(folders))
			for i := range ss.counts {
				if ss.counts[i], err = r.readInt("substream count", maxItems); err != nil {
					return ss, err
				}
			}
			continue
		}
		if t == idCRC || t == idSize || t == idEnd {
			break
		}
		if err := r.skipData(); err != nil {
			return ss, err
		}
	}

	if ss.counts == nil {
		ss.counts = make([]int, len(folders))
		for i := range ss.counts {
			ss.counts[i] = 1
		}
	}

	for i, n := range ss.counts {
		if n == 0 {
			continue
		}
		total, err := folders[i].unpackSize()
		if err != nil {
			return ss, errors.Wrapf(err, "folder %d", i)
		}
		if n > 1 && t != idSize {
			return ss, errors.Wrapf(ErrFormat, "folder %d: %d substreams without sizes", i, n)
		}
		var sum uint64
		for j := 1; j < n; j++ {
			size, err := r.readNumber()
			if err != nil {
				return ss, err
			}
			sum += size
			if sum < size || sum > total {
				return ss, errors.Wrapf(ErrFormat, "folder %d: substream sizes exceed %d", i, total)
			}
			ss.sizes = append(ss.sizes, size)
		}
		ss.sizes = append(ss.sizes, total-sum)
	}
	if t == idSize {
		if t, err = r.readByte(); err != nil {
			return ss, err
		}
	}

	// Folders with a single substream and a known folder CRC do not repeat
	// it here.
	numDigests := 0
	for i, n := range ss.counts {
		if n != 1 || !folders[i].crcDefined {
			numDigests += n
		}
	}

	for {
		switch t {
		case idEnd:
			if ss.crcDefined == nil {
				ss.crcDefined, ss.crcs = mergeDigests(folders, ss.counts, nil, nil)
			}
			return ss, nil
		case idCRC:
			defined, crcs, err := r.readDigests(numDigests)
			if err != nil {
				return ss, err
			}
			ss.crcDefined, ss.crcs = mergeDigests(folders, ss.counts, defined, crcs)
		default:
			if err := r.skipData(); err != nil {
				return ss, err
			}
		}
		if t, err = r.readByte(); err != nil {
			return ss, err
		}
	}
}

// mergeDigests builds the per-substream digest table from the digests read
// for substreams and the folder level CRCs.
func mergeDigests(folders []folder, counts []int, defined []bool, crcs []uint32) ([]bool, []uint32) {
	var (
		outDefined []bool
		outCRCs    []uint32
		k          int
	)
	for i, n := range counts {
		if n == 1 && folders[i].crcDefined {
			outDefined = append(outDefined, true)
			outCRCs = append(outCRCs, folders[i].crc)
			continue
		}
		for j := 0; j < n; j++ {
			if k < len(defined) {
				outDefined = append(outDefined, defined[k])
				outCRCs = append(outCRCs, crcs[k])
			} else {
				outDefined = append(outDefined, false)
				outCRCs = append(outCRCs, 0)
			}
			k++
		}
	}
	return outDefined, outCRCs
}

// defaultSubStreams describes one substream per folder spanning the whole
// folder output.
func defaultSubStreams(folders []folder) (subStreams, error) {
	ss := subStreams{counts: make([]int, len(folders))}
	for i := range folders {
		ss.counts[i] = 1
		size, err := folders[i].unpackSize()
		if err != nil {
			return ss, errors.Wrapf(err, "folder %d", i)
		}
		ss.sizes = append(ss.sizes, size)
		ss.crcDefined = append(ss.crcDefined, folders[i].crcDefined)
		ss.crcs = append(ss.crcs, folders[i].crc)
	}
	return ss, nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
