package api

import (
	"context"
	"fmt"

	"github.com/gostones/cloudattach/internal/types"
)

// StartUpload opens, resumes or short-circuits the upload session for a file.
// The returned UploadStatus tells the caller which of the outcomes applies.
func (c *Client) StartUpload(ctx context.Context, hash, name string, size int64) (*types.InitUploadResponse, error) {
	var out types.InitUploadResponse
	req := types.InitUploadRequest{
		FileHash:   hash,
		FileName:   name,
		TotalBytes: size,
	}
	if err := c.call(ctx, pathInitUpload, req, &out); err != nil {
		return nil, err
	}
	switch out.UploadStatus {
	case types.StatusCompleted, types.StatusStorageLimit, types.StatusPerFileMaxLimit:
	case types.StatusUploading, "":
		if out.UploadID == "" {
			return nil, fmt.Errorf("%s: malformed response: missing upload id", pathInitUpload)
		}
		out.UploadStatus = types.StatusUploading
	default:
		return nil, fmt.Errorf("%s: unknown upload status %q", pathInitUpload, out.UploadStatus)
	}
	return &out, nil
}

// NextPart confirms a transferred part and returns the part to send next.
func (c *Client) NextPart(ctx context.Context, uploadID string, part int64, etag string, uploaded int64) (*types.UploadPartResponse, error) {
	var out types.UploadPartResponse
	req := types.UploadPartRequest{
		UploadID:      uploadID,
		PartNumber:    part,
		ETag:          etag,
		UploadedBytes: uploaded,
	}
	if err := c.call(ctx, pathUploadPart, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CompleteUpload finalizes the session and returns where the object lives.
func (c *Client) CompleteUpload(ctx context.Context, uploadID string) (*types.Object, error) {
	var out types.CompleteUploadResponse
	if err := c.call(ctx, pathCompleteUpload, types.CompleteUploadRequest{UploadID: uploadID}, &out); err != nil {
		return nil, err
	}
	if out.FileKey == "" {
		return nil, fmt.Errorf("%s: malformed response: missing file key", pathCompleteUpload)
	}
	return &out.Object, nil
}
