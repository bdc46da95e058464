package tarfs

import (
	"archive/tar"
	"os"
)

// mode returns the original permission bits without the writable bits,
// since we're a read only file system.
func mode(h *tar.Header) os.FileMode {
	return h.FileInfo().Mode().Perm() &^ 0222
}
