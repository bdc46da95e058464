package rarfs

import (
	"os"

	rar "github.com/nwaples/rardecode"
)

// Unix directories typically are executable, hence 555.
const dirMode = os.ModeDir | 0555

// mode returns the original file mode without writable bits, since we're a
// read only file system.
func mode(f *rar.FileHeader) os.FileMode {
	return f.Mode().Perm() &^ 0222
}
