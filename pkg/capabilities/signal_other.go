//go:build !unix

package capabilities

import "os"

func interrupt(p *os.Process) error {
	return p.Kill()
}
