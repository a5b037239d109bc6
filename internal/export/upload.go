package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"time"
)

// ErrSimulation is returned by Upload in simulation mode; simulated data
// never leaves the machine.
var ErrSimulation = errors.New("export: upload disabled in simulation mode")

// Uploader sends a CSV to cloud storage through a presigned PUT URL.
type Uploader struct {
	PresignURL string
	Bucket     string
	Simulation bool
	Client     *http.Client
}

type presignRequest struct {
	Filename string `json:"filename"`
	Bucket   string `json:"bucket,omitempty"`
}

type presignResponse struct {
	UploadURL string `json:"uploadUrl"`
	PublicURL string `json:"publicUrl"`
	Error     string `json:"error"`
}

// Upload requests a presigned URL for filename and PUTs data to it. It
// returns the public URL of the uploaded object.
func (u *Uploader) Upload(ctx context.Context, filename string, data []byte) (string, error) {
	if u.Simulation {
		return "", ErrSimulation
	}
	client := u.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	presigned, err := u.presign(ctx, client, filename)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, presigned.UploadURL, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("export: build upload request: %w", err)
	}
	req.Header.Set("Content-Type", "text/csv")
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("export: upload: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("export: upload failed with status %d: %s", resp.StatusCode, excerpt(resp.Body))
	}

	slog.Info("[EXPORT] upload complete", "file", filename, "url", presigned.PublicURL)
	return presigned.PublicURL, nil
}

// UploadExport uploads a finished export as "<device>.csv", the name the
// campaign bucket keys sensors by. The local file is removed after a
// successful upload unless keepLocal is set; a failed removal is logged and
// does not fail the upload.
func (u *Uploader) UploadExport(ctx context.Context, res Result, device string, keepLocal bool) (string, error) {
	if len(res.CSV) == 0 {
		return "", ErrNoData
	}
	name := FileName(device)
	public, err := u.Upload(ctx, name, res.CSV)
	if err != nil {
		return "", err
	}
	if !keepLocal && res.Path != "" {
		if err := os.Remove(res.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("[EXPORT] could not delete local csv", "path", res.Path, "error", err)
		} else {
			slog.Info("[EXPORT] local csv deleted", "path", res.Path)
		}
	}
	return public, nil
}

func (u *Uploader) presign(ctx context.Context, client *http.Client, filename string) (presignResponse, error) {
	body, err := json.Marshal(presignRequest{Filename: filename, Bucket: u.Bucket})
	if err != nil {
		return presignResponse{}, fmt.Errorf("export: encode presign request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.PresignURL, bytes.NewReader(body))
	if err != nil {
		return presignResponse{}, fmt.Errorf("export: build presign request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	slog.Debug("[EXPORT] requesting presigned url", "file", filename, "bucket", u.Bucket)
	resp, err := client.Do(req)
	if err != nil {
		return presignResponse{}, fmt.Errorf("export: presign: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return presignResponse{}, fmt.Errorf("export: presign server error %d: %s", resp.StatusCode, excerpt(resp.Body))
	}
	var out presignResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return presignResponse{}, fmt.Errorf("export: decode presign response: %w", err)
	}
	if out.UploadURL == "" {
		return presignResponse{}, fmt.Errorf("export: presign response has no uploadUrl")
	}
	return out, nil
}

func excerpt(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 512))
	return string(bytes.TrimSpace(b))
}
