package types

import "encoding/json"

// Control plane error codes carried in every response envelope.
const (
	CodeOK            = 0
	CodeTokenExpired  = 6001
	CodePolicyLimit   = 7002
	CodePolicyAccount = 7003
)

// Upload session states returned by init_upload.
const (
	StatusCompleted       = "completed"
	StatusStorageLimit    = "storagelimit"
	StatusPerFileMaxLimit = "perfilemaxlimit"
	StatusUploading       = "uploading"
)

// Envelope wraps every control plane response.
type Envelope struct {
	Detail json.RawMessage `json:"detail"`
}

// Status is embedded in every response detail.
type Status struct {
	ErrorCode    int    `json:"error_code"`
	ErrorMessage string `json:"error_message,omitempty"`
}

type InitUploadRequest struct {
	FileHash   string `json:"file_hash"`
	FileName   string `json:"file_name"`
	TotalBytes int64  `json:"total_bytes"`
}

type InitUploadResponse struct {
	Status
	UploadStatus string `json:"upload_status"`

	// set while the upload is in progress
	UploadID      string `json:"upload_id,omitempty"`
	PartNumber    int64  `json:"part_number,omitempty"`
	URL           string `json:"url,omitempty"`
	PartSize      int64  `json:"part_size,omitempty"`
	UploadedBytes int64  `json:"uploaded_bytes"`

	// set when the content is already stored
	Object
}

type UploadPartRequest struct {
	UploadID      string `json:"upload_id"`
	PartNumber    int64  `json:"part_number"`
	ETag          string `json:"etag"`
	UploadedBytes int64  `json:"uploaded_bytes"`
}

type UploadPartResponse struct {
	Status
	PartNumber    int64  `json:"part_number"`
	URL           string `json:"url"`
	UploadedBytes int64  `json:"uploaded_bytes"`
}

type CompleteUploadRequest struct {
	UploadID string `json:"upload_id"`
}

type CompleteUploadResponse struct {
	Status
	Object
}

// Object identifies a stored file and the codes used to build its links.
type Object struct {
	FolderID    string `json:"folder_id,omitempty"`
	FileKey     string `json:"file_key,omitempty"`
	PublicCode  string `json:"public_code,omitempty"`
	PrivateCode string `json:"private_code,omitempty"`
}

type UserInfoRequest struct {
	StorageType string `json:"storageType"`
	Version     string `json:"version"`
}

type UserInfoResponse struct {
	Status
	UserType   string `json:"user_type"`
	FolderName string `json:"folder_name"`
	IsVerified bool   `json:"is_verified"`
}

type RefreshTokenResponse struct {
	Status
	AccessToken string `json:"access_token"`
}
