// Package upload drives batches of attachments through upload, reference
// rewriting and local disposition.
package upload

import (
	"errors"
	"fmt"
)

var (
	// ErrBatchInProgress rejects a batch while another one is running.
	ErrBatchInProgress = errors.New("an upload batch is already running")

	// ErrSessionStalled means the control plane stopped advancing a session.
	ErrSessionStalled = errors.New("upload session made no progress")
)

// Outcome is the result of uploading one file: Success,
// StorageQuotaExceeded, PerFileLimitExceeded or TransferError.
type Outcome interface {
	outcome()
}

// Success locates the uploaded object.
type Success struct {
	RemoteKey   string
	ContainerID string
	PublicCode  string
	PrivateCode string
}

// StorageQuotaExceeded means the account has no room left for the file.
type StorageQuotaExceeded struct{}

// PerFileLimitExceeded means the file is larger than the account allows.
type PerFileLimitExceeded struct{}

// TransferError is the last failure of a file that ran out of attempts.
type TransferError struct {
	Err error
}

func (Success) outcome()              {}
func (StorageQuotaExceeded) outcome() {}
func (PerFileLimitExceeded) outcome() {}
func (TransferError) outcome()        {}

func (e TransferError) Error() string {
	return fmt.Sprintf("transfer failed: %v", e.Err)
}

func (e TransferError) Unwrap() error {
	return e.Err
}
