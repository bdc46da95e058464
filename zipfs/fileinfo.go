package zipfs

import (
	"archive/zip"
	"os"
)

// Unix directories typically are executable, hence 555.
const dirMode = os.ModeDir | 0555

// fileMode returns the permission bits of a member without the writable
// bits, since we're a read only file system. Archives written without Unix
// modes get 0444.
func fileMode(h *zip.FileHeader) os.FileMode {
	if perm := h.Mode().Perm(); perm != 0 {
		return perm &^ 0222
	}
	return 0444
}
