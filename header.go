package sevenzip

import (
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
)

// Property IDs of the header tag stream.
const (
	idEnd byte = iota
	idHeader
	idArchiveProperties
	idAdditionalStreamsInfo
	idMainStreamsInfo
	idFilesInfo
	idPackInfo
	idUnpackInfo
	idSubStreamsInfo
	idSize
	idCRC
	idFolder
	idCodersUnpackSize
	idNumUnpackStream
	idEmptyStream
	idEmptyFile
	idAnti
	idName
	idCTime
	idATime
	idMTime
	idWinAttributes
	idComment
	idEncodedHeader
	idStartPos
	idDummy
)

var propertyNames = [...]string{
	"kEnd", "kHeader", "kArchiveProperties", "kAdditionalStreamsInfo",
	"kMainStreamsInfo", "kFilesInfo", "kPackInfo", "kUnpackInfo",
	"kSubStreamsInfo", "kSize", "kCRC", "kFolder", "kCodersUnpackSize",
	"kNumUnpackStream", "kEmptyStream", "kEmptyFile", "kAnti", "kName",
	"kCTime", "kATime", "kMTime", "kWinAttributes", "kComment",
	"kEncodedHeader", "kStartPos", "kDummy",
}

type propertyID byte

func (id propertyID) String() string {
	if int(id) < len(propertyNames) {
		return propertyNames[id]
	}
	return fmt.Sprintf("property(%#x)", byte(id))
}

// Windows file attribute bits.
const (
	AttrReadOnly  = 0x01
	AttrHidden    = 0x02
	AttrSystem    = 0x04
	AttrDirectory = 0x10
	AttrArchive   = 0x20
)

// coder is one stage of a folder's coder graph.
type coder struct {
	method     uint64
	numIn      int
	numOut     int
	properties []byte
}

// bindPair connects the output stream out of one coder to the input stream
// in of another.
type bindPair struct {
	in  uint64
	out uint64
}

// folder is the unit of compression: a coder graph fed by one or more pack
// streams whose final output backs one or more files.
type folder struct {
	coders        []coder
	bindPairs     []bindPair
	packedStreams []uint64
	unpackSizes   []uint64 // one per coder output stream
	crcDefined    bool
	crc           uint32
}

func (f *folder) numInStreams() (n int) {
	for _, c := range f.coders {
		n += c.numIn
	}
	return n
}

func (f *folder) numOutStreams() (n int) {
	for _, c := range f.coders {
		n += c.numOut
	}
	return n
}

// unpackSize returns the size of the folder's final output: the one output
// stream that is not bound to another coder's input.
func (f *folder) unpackSize() (uint64, error) {
	for j := len(f.unpackSizes) - 1; j >= 0; j-- {
		bound := false
		for _, bp := range f.bindPairs {
			if bp.out == uint64(j) {
				bound = true
				break
			}
		}
		if !bound {
			return f.unpackSizes[j], nil
		}
	}
	return 0, errors.Wrap(ErrFormat, "folder has no unbound output stream")
}

// packInfo describes the physical pack streams of an archive.
type packInfo struct {
	pos        uint64 // relative to the end of the start header
	sizes      []uint64
	crcDefined []bool
	crcs       []uint32
}

// subStreams holds the per-substream sizes and CRCs of all folders, in
// folder order.
type subStreams struct {
	counts     []int // substreams per folder
	sizes      []uint64
	crcDefined []bool
	crcs       []uint32
}

// streamsInfo is the parsed content of a streams info block.
type streamsInfo struct {
	pack    packInfo
	folders []folder
	sub     subStreams
}

// Filetime is a Windows FILETIME: 100ns ticks since 1601-01-01 UTC. Zero
// means undefined.
type Filetime uint64

// File is one archive entry.
type File struct {
	Name       string // slash separated
	IsDir      bool
	HasStream  bool
	IsAnti     bool
	Size       uint64
	CRC        uint32
	CRCDefined bool

	Attributes    uint32
	AttribDefined bool

	CTime, ATime, MTime Filetime
	StartPos            uint64

	// Folder is the index of the folder holding the content, or -1 for
	// entries without a stream.
	Folder int

	// Offset is the position of the file's content in the archive's
	// decoded data.
	Offset int64
}

// Mode returns the POSIX mode of the entry. Only the directory flag is
// derived from the archive's attributes.
func (f *File) Mode() os.FileMode {
	if f.IsDir {
		return os.ModeDir | 0755
	}
	return 0644
}

// ModTime returns the modification time, or the zero time if the archive
// does not record one.
func (f *File) ModTime() time.Time {
	if f.MTime == 0 {
		return time.Time{}
	}
	return f.MTime.Time()
}
