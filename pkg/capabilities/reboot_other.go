//go:build !linux

package capabilities

import "errors"

func rebootHost() error {
	return errors.New("reboot is only implemented on linux")
}
