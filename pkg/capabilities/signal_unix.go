//go:build unix

package capabilities

import (
	"os"

	"golang.org/x/sys/unix"
)

func interrupt(p *os.Process) error {
	return p.Signal(unix.SIGINT)
}
