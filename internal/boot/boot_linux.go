//go:build linux

package boot

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// Time returns the kernel boot time, UTC milliseconds since epoch.
func Time() (int64, error) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0, fmt.Errorf("sysinfo: %w", err)
	}
	return time.Now().UnixMilli() - int64(info.Uptime)*1000, nil
}
