package linux

import (
	"fmt"

	securejoin "github.com/cyphar/filepath-securejoin"
)

// SecureJoin resolves unsafePath relative to base the way a container
// rootfs join must: symlinks encountered along the way are resolved as if
// base were the filesystem root, so "../" components and absolute symlink
// targets can never escape base.
func SecureJoin(base, unsafePath string) (string, error) {
	if base == "" {
		return "", fmt.Errorf("securejoin: empty base path")
	}
	return securejoin.SecureJoin(base, unsafePath)
}
