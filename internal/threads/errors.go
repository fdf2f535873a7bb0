package threads

import "errors"

var (
	ErrUnknownManager = errors.New("transfer target is not a known manager")
	ErrStudentOnly    = errors.New("operation is reserved for students")
	ErrManagerOnly    = errors.New("operation is reserved for managers")
)
