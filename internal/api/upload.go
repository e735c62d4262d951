package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	nethttp "net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/rescale/rescale-files/internal/http"
	"github.com/rescale/rescale-files/internal/models"
)

// UploadProgress receives the bytes sent so far for the current attempt.
// A retry starts again from zero.
type UploadProgress func(sent, total int64)

// countingReader reports cumulative reads to a progress callback.
type countingReader struct {
	r        io.Reader
	sent     int64
	total    int64
	progress UploadProgress
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	if n > 0 {
		cr.sent += int64(n)
		if cr.progress != nil {
			cr.progress(cr.sent, cr.total)
		}
	}
	return n, err
}

// UploadFile uploads a local file as a multipart POST and places it in folderID.
// Empty folderID leaves the file in the library root.
//
// The body is streamed, so the transport can't replay it; failed attempts are
// retried here by reopening the file.
func (c *Client) UploadFile(ctx context.Context, localPath, folderID string, progress UploadProgress) (*models.CloudFile, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", localPath, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", localPath)
	}

	var uploaded *models.CloudFile
	retryCfg := http.DefaultConfig()
	retryCfg.OnRetry = func(attempt int, err error, errType http.ErrorType) {
		c.logger.Warn().Err(err).Int("attempt", attempt).Str("class", http.ErrorTypeName(errType)).
			Str("file", localPath).Msg("retrying upload")
	}
	err = http.ExecuteWithRetry(ctx, retryCfg, func() error {
		f, err := c.uploadOnce(ctx, localPath, info.Size(), progress)
		if err != nil {
			return err
		}
		uploaded = f
		return nil
	})
	if err != nil {
		return nil, err
	}

	if folderID != "" && uploaded.CurrentFolderID != folderID {
		if err := c.MoveFileToFolder(ctx, uploaded.ID, folderID); err != nil {
			return nil, fmt.Errorf("uploaded %s but failed to move it into folder: %w", uploaded.ID, err)
		}
		uploaded.CurrentFolderID = folderID
	}
	return uploaded, nil
}

func (c *Client) uploadOnce(ctx context.Context, localPath string, size int64, progress UploadProgress) (*models.CloudFile, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	defer pr.Close()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", filepath.Base(localPath))
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		src := &countingReader{r: f, total: size, progress: progress}
		if _, err := io.Copy(part, src); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	if err := c.limiter.Wait(ctx); err != nil {
		pr.CloseWithError(err)
		return nil, fmt.Errorf("rate limiter cancelled: %w", err)
	}
	const path = "/api/v2/files/contents/"
	c.recordCall(path)

	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodPost, c.baseURL+path, pr)
	if err != nil {
		pr.CloseWithError(err)
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.authorize(req)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.transferClient.Do(req)
	if err != nil {
		pr.CloseWithError(err)
		return nil, fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != nethttp.StatusCreated && resp.StatusCode != nethttp.StatusOK {
		serr := newStatusError("upload file", resp)
		if resp.StatusCode == nethttp.StatusConflict || resp.StatusCode == nethttp.StatusBadRequest {
			if msg := strings.ToLower(serr.Error()); strings.Contains(msg, "already exists") || strings.Contains(msg, "duplicate") {
				return nil, fmt.Errorf("%w: %v", ErrFileAlreadyExists, serr)
			}
		}
		return nil, serr
	}

	var file models.CloudFile
	if err := json.NewDecoder(resp.Body).Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to decode upload response: %w", err)
	}
	return &file, nil
}
