//go:build !darwin

package exportfs

import "time"

// Creation time is not settable through the portable APIs on this platform.
func setFileCreationTime(string, time.Time) error {
	return nil
}
