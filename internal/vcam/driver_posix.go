//go:build !windows

package vcam

import (
	"fmt"
	"os"
)

// DefaultDriverCheck on POSIX hosts only verifies that the shared-memory
// directory is usable; the consumer is a separate process that maps the
// segment by name.
func DefaultDriverCheck(shmDir string) DriverCheck {
	return func() error {
		info, err := os.Stat(shmDir)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrDriverNotFound, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("%w: %s is not a directory", ErrDriverNotFound, shmDir)
		}
		return nil
	}
}
