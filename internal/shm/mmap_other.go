//go:build !unix

package shm

import (
	"errors"
	"os"
)

func mapFile(_ *os.File, _ int) ([]byte, error) {
	return nil, errors.ErrUnsupported
}

func unmapFile(_ []byte) error {
	return nil
}
