//go:build linux

package capabilities

import "golang.org/x/sys/unix"

func rebootHost() error {
	unix.Sync()

	return unix.Reboot(unix.LINUX_REBOOT_CMD_RESTART)
}
