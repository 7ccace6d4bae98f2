package storage

import "errors"

var (
	ErrWorksheetNotFound = errors.New("worksheet not found")
	ErrInvalidData       = errors.New("invalid data")
	ErrStorageInit       = errors.New("storage initialization failed")
	ErrFileOperation     = errors.New("file operation failed")
)
