//go:build darwin

package exportfs

import (
	"fmt"
	"os/exec"
	"time"
)

// setFileCreationTime uses the Xcode SetFile tool when it is installed and
// silently skips otherwise.
func setFileCreationTime(path string, created time.Time) error {
	if created.IsZero() {
		return nil
	}
	tool, err := exec.LookPath("SetFile")
	if err != nil {
		return nil
	}
	stamp := created.Local().Format("01/02/2006 15:04:05")
	if out, err := exec.Command(tool, "-d", stamp, path).CombinedOutput(); err != nil {
		return fmt.Errorf("set creation time on %s: %w (%s)", path, err, out)
	}
	return nil
}
