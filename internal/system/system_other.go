//go:build !linux

package system

import "errors"

func kernelRelease() (string, error) {
	return "", errors.New("kernel version is only available on Linux")
}
