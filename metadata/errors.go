package metadata

import "errors"

var (
	// ErrJobNotFound is returned when a job id does not exist.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobExists is returned when creating a job whose id already exists.
	ErrJobExists = errors.New("job already exists")
)
