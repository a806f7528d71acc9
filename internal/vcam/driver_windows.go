//go:build windows

package vcam

import (
	"fmt"

	"golang.org/x/sys/windows/registry"
)

// driverCLSID is the COM class the OBS virtual camera registers
const driverCLSID = `CLSID\{A3FCE0F5-3493-419F-958A-ABA1250EC20B}`

// DefaultDriverCheck looks up the camera's COM registration. shmDir is
// unused on Windows.
func DefaultDriverCheck(string) DriverCheck {
	return func() error {
		k, err := registry.OpenKey(registry.CLASSES_ROOT, driverCLSID, registry.QUERY_VALUE)
		if err != nil {
			return fmt.Errorf("%w: HKCR\\%s: %v", ErrDriverNotFound, driverCLSID, err)
		}
		return k.Close()
	}
}
