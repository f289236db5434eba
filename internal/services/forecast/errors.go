package forecast

import "errors"

var (
	ErrInsufficientHistory = errors.New("insufficient history")
	ErrNotConverged        = errors.New("model did not converge")
)
