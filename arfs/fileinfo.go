package arfs

import (
	"os"

	"github.com/blakesmith/ar"
)

// mode returns the member's permission bits without the writable bits.
// Archives written in deterministic mode record no permissions at all.
func mode(h *ar.Header) os.FileMode {
	if m := os.FileMode(h.Mode).Perm() &^ 0222; m != 0 {
		return m
	}
	return 0444
}
