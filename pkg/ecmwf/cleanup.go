package ecmwf

import (
	"fmt"
	"os"
)

// Cleanup removes the given files in order. It stops at the first file that
// cannot be removed, including one that no longer exists, and returns that
// error; later files are left untouched.
func Cleanup(filenames []string) error {
	for _, f := range filenames {
		if err := os.Remove(f); err != nil {
			return fmt.Errorf("ecmwf: cleanup: %w", err)
		}
	}
	return nil
}

// Cleanup removes the files downloaded for the plan. It is never called by
// Retrieve or Load.
func (p *Plan) Cleanup() error {
	return Cleanup(p.filenames)
}
