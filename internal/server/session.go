package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gostones/cloudattach/internal/types"
)

var timeNow = time.Now

func (s *Server) initUpload(r *http.Request) (any, error) {
	var req types.InitUploadRequest
	if err := decode(r, &req); err != nil {
		return nil, err
	}
	if req.FileHash == "" || req.FileName == "" || req.TotalBytes < 0 {
		return nil, errorf(CodeBadRequest, "file_hash, file_name and a non-negative total_bytes are required")
	}

	key := "content/" + req.FileHash + "/" + strconv.FormatInt(req.TotalBytes, 10)
	return s.withLock(r.Context(), key, func() (any, error) {
		resp, err := s.negotiate(r.Context(), req)
		if err == nil {
			s.metrics.initStatus(resp.UploadStatus)
		}
		return resp, err
	})
}

func (s *Server) negotiate(ctx context.Context, req types.InitUploadRequest) (*types.InitUploadResponse, error) {
	log := s.log.With("file", req.FileName, "size", req.TotalBytes)

	obj, err := s.store.Object(req.FileHash, req.TotalBytes)
	switch {
	case err == nil:
		log.Info("content already stored", "key", obj.Key)
		return &types.InitUploadResponse{UploadStatus: types.StatusCompleted, Object: obj.wire()}, nil
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}

	if s.opts.PerFileLimit > 0 && req.TotalBytes > s.opts.PerFileLimit {
		return &types.InitUploadResponse{UploadStatus: types.StatusPerFileMaxLimit}, nil
	}

	sess, err := s.store.InFlight(req.FileHash, req.FileName, req.TotalBytes)
	switch {
	case err == nil:
		log.Info("resuming upload", "upload_id", sess.ID, "uploaded", sess.Uploaded)
		return s.uploading(ctx, sess)
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}

	if s.opts.StorageLimit > 0 {
		usage, err := s.store.Usage()
		if err != nil {
			return nil, err
		}
		if usage+req.TotalBytes > s.opts.StorageLimit {
			return &types.InitUploadResponse{UploadStatus: types.StatusStorageLimit}, nil
		}
	}

	id := uuid.NewString()
	sess = &Session{
		ID:       id,
		Hash:     req.FileHash,
		Name:     req.FileName,
		Size:     req.TotalBytes,
		Key:      s.opts.Account.FolderID + "/" + id + "/" + req.FileName,
		PartSize: s.opts.PartSize,
		NextPart: 1,
		Created:  timeNow(),
	}
	if sess.Size > 0 {
		if sess.MultipartID, err = s.backend.CreateMultipart(ctx, sess.Key); err != nil {
			return nil, err
		}
	}
	if err := s.store.CreateSession(sess); err != nil {
		return nil, err
	}
	log.Info("upload started", "upload_id", sess.ID)
	return s.uploading(ctx, sess)
}

// partURL is empty once every byte is confirmed.
func (s *Server) partURL(ctx context.Context, sess *Session) (string, error) {
	if sess.Uploaded >= sess.Size {
		return "", nil
	}
	return s.backend.PartURL(ctx, sess.Key, sess.MultipartID, sess.NextPart)
}

func (s *Server) uploading(ctx context.Context, sess *Session) (*types.InitUploadResponse, error) {
	url, err := s.partURL(ctx, sess)
	if err != nil {
		return nil, err
	}
	return &types.InitUploadResponse{
		UploadStatus:  types.StatusUploading,
		UploadID:      sess.ID,
		PartNumber:    sess.NextPart,
		URL:           url,
		PartSize:      sess.PartSize,
		UploadedBytes: sess.Uploaded,
	}, nil
}

func (s *Server) session(id string) (*Session, error) {
	sess, err := s.store.Session(id)
	if errors.Is(err, ErrNotFound) {
		return nil, errorf(CodeUnknownUpload, "unknown upload %s", id)
	}
	return sess, err
}

func (s *Server) uploadPart(r *http.Request) (any, error) {
	var req types.UploadPartRequest
	if err := decode(r, &req); err != nil {
		return nil, err
	}
	return s.withLock(r.Context(), "session/"+req.UploadID, func() (any, error) {
		sess, err := s.session(req.UploadID)
		if err != nil {
			return nil, err
		}
		if err := s.confirm(sess, req); err != nil {
			return nil, err
		}
		url, err := s.partURL(r.Context(), sess)
		if err != nil {
			return nil, err
		}
		return types.UploadPartResponse{
			PartNumber:    sess.NextPart,
			URL:           url,
			UploadedBytes: sess.Uploaded,
		}, nil
	})
}

// confirm records part req.PartNumber. Repeating the last confirmation is
// accepted so a client that lost the response can carry on.
func (s *Server) confirm(sess *Session, req types.UploadPartRequest) error {
	if n := len(sess.Parts); n > 0 {
		last := sess.Parts[n-1]
		if req.PartNumber == last.Number && req.ETag == last.ETag && req.UploadedBytes == sess.Uploaded {
			return nil
		}
	}
	if req.PartNumber != sess.NextPart {
		return errorf(CodeUnexpectedPart, "unexpected part %d, expected %d", req.PartNumber, sess.NextPart)
	}
	if strings.TrimSpace(req.ETag) == "" {
		return errorf(CodeBadRequest, "missing etag for part %d", req.PartNumber)
	}
	end := sess.PartEnd(req.PartNumber)
	if req.UploadedBytes != end {
		return errorf(CodeUnexpectedPart, "part %d ends at %d, got %d", req.PartNumber, end, req.UploadedBytes)
	}

	confirmed := end - sess.Uploaded
	sess.Parts = append(sess.Parts, Part{Number: req.PartNumber, ETag: req.ETag})
	sess.Uploaded = end
	sess.NextPart++
	if err := s.store.SaveSession(sess); err != nil {
		return err
	}
	s.metrics.confirmed(confirmed)
	s.log.Debug("part confirmed", "upload_id", sess.ID, "part", req.PartNumber, "uploaded", sess.Uploaded, "size", sess.Size)
	return nil
}

func (s *Server) completeUpload(r *http.Request) (any, error) {
	var req types.CompleteUploadRequest
	if err := decode(r, &req); err != nil {
		return nil, err
	}
	return s.withLock(r.Context(), "session/"+req.UploadID, func() (any, error) {
		sess, err := s.session(req.UploadID)
		if err != nil {
			return nil, err
		}
		if sess.Uploaded != sess.Size {
			return nil, errorf(CodeIncomplete, "upload %s has %d of %d bytes", sess.ID, sess.Uploaded, sess.Size)
		}

		if sess.Size == 0 {
			err = s.backend.PutObject(r.Context(), sess.Key, nil)
		} else {
			err = s.backend.CompleteMultipart(r.Context(), sess.Key, sess.MultipartID, sess.Parts)
		}
		if err != nil {
			return nil, err
		}

		obj := &Object{
			Hash:        sess.Hash,
			Size:        sess.Size,
			Name:        sess.Name,
			Key:         sess.Key,
			FolderID:    s.opts.Account.FolderID,
			PublicCode:  accessCode(),
			PrivateCode: accessCode() + accessCode(),
			Created:     timeNow(),
		}
		if err := s.store.Finish(sess, obj); err != nil {
			return nil, err
		}
		if usage, err := s.store.Usage(); err == nil {
			s.metrics.stored(usage)
		}
		s.log.Info("upload completed", "upload_id", sess.ID, "key", sess.Key, "size", sess.Size)
		return types.CompleteUploadResponse{Object: obj.wire()}, nil
	})
}

func (o *Object) wire() types.Object {
	return types.Object{
		FolderID:    o.FolderID,
		FileKey:     o.Name,
		PublicCode:  o.PublicCode,
		PrivateCode: o.PrivateCode,
	}
}

func accessCode() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
