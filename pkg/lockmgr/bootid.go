package lockmgr

import (
	"os"
	"strings"
)

// readBootID returns a best-effort identifier for the current boot session,
// used to distinguish "owner pid happens to be reused by an unrelated
// process after a reboot" from "owner process is genuinely still running".
// On Linux this is /proc/sys/kernel/random/boot_id; elsewhere (or if
// unreadable) it falls back to the process start time of pid 1, which is
// still stable across the lifetime of a single boot.
func readBootID() string {
	if data, err := os.ReadFile("/proc/sys/kernel/random/boot_id"); err == nil {
		return strings.TrimSpace(string(data))
	}
	if info, err := os.Stat("/proc/1"); err == nil {
		return info.ModTime().String()
	}
	return "unknown-boot"
}
