package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/srg/blesvc/internal/gatt"
)

// FormatUserError turns an error returned by a command into a one-line
// message for the terminal.
func FormatUserError(err error) string {
	var pathErr *os.PathError
	var gattErr *gatt.Error
	switch {
	case errors.As(err, &pathErr) && errors.Is(err, os.ErrNotExist):
		return fmt.Sprintf("file not found: %s", pathErr.Path)
	case errors.As(err, &gattErr) && gattErr.Kind == gatt.KindCapacityExceeded:
		return fmt.Sprintf("%s (raise max_characteristics or disable a service)", err)
	default:
		return err.Error()
	}
}
