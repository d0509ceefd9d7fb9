package filesync

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/frankbria/parallel-cc-sub000/internal/sandbox"
)

const maxPartBytes = 50 * 1024 * 1024 // 50 MB

// UploadFailed wraps an error encountered during Upload or a part write.
type UploadFailed struct{ Err error }

func (e *UploadFailed) Error() string { return fmt.Sprintf("filesync: upload failed: %v", e.Err) }
func (e *UploadFailed) Unwrap() error  { return e.Err }

// UploadResult is the outcome of Upload.
type UploadResult struct {
	Success   bool
	SizeBytes int64
	Duration  time.Duration
	Error     error
}

// Upload writes a tarball into a sandbox and extracts it into remoteDir.
// Tarballs at or under 50 MB are written in a single call; larger
// tarballs are split into 50 MB parts named "<tar>.part0", ".part1", …,
// written individually, then concatenated and extracted remotely. When
// mirror is non-nil, the tarball is also copied to the configured audit
// bucket under remoteDir as its object prefix; a mirror failure is
// logged-equivalent (returned in UploadResult.Error) but never aborts an
// otherwise-successful upload.
func Upload(ctx context.Context, tarballPath string, handle sandbox.Handle, remoteDir string, mirror *AuditMirror) (*UploadResult, error) {
	start := time.Now()

	data, err := os.ReadFile(tarballPath)
	if err != nil {
		return nil, &UploadFailed{Err: fmt.Errorf("read tarball: %w", err)}
	}

	remoteName := "sync-upload.tar.gz"
	remotePath := remoteDir + "/" + remoteName

	if int64(len(data)) <= maxPartBytes {
		if err := handle.WriteFile(ctx, remotePath, data); err != nil {
			return &UploadResult{Success: false, Error: err}, nil
		}
	} else {
		if err := uploadChunked(ctx, handle, data, remotePath); err != nil {
			return &UploadResult{Success: false, Error: err}, nil
		}
	}

	extractCmd := fmt.Sprintf("tar -xzf %s -C %s", ShellQuote(remotePath), ShellQuote(remoteDir))
	if result, err := handle.Run(ctx, extractCmd, 0); err != nil || result.ExitCode != 0 {
		if err == nil {
			err = fmt.Errorf("extract exited %d: %s", result.ExitCode, result.Stderr)
		}
		return &UploadResult{Success: false, Error: err}, nil
	}

	if mirror != nil {
		_ = mirror.Mirror(ctx, tarballPath, strings.TrimPrefix(remoteDir, "/"))
	}

	return &UploadResult{Success: true, SizeBytes: int64(len(data)), Duration: time.Since(start)}, nil
}

func uploadChunked(ctx context.Context, handle sandbox.Handle, data []byte, remotePath string) error {
	var partPaths []string
	for offset, part := 0, 0; offset < len(data); part++ {
		end := offset + maxPartBytes
		if end > len(data) {
			end = len(data)
		}
		partPath := fmt.Sprintf("%s.part%d", remotePath, part)
		if err := handle.WriteFile(ctx, partPath, data[offset:end]); err != nil {
			return fmt.Errorf("write part %d: %w", part, err)
		}
		partPaths = append(partPaths, partPath)
		offset = end
	}

	catCmd := fmt.Sprintf("cat %s > %s && rm -f %s", ShellJoin(partPaths), ShellQuote(remotePath), ShellJoin(partPaths))

	result, err := handle.Run(ctx, catCmd, 0)
	if err != nil {
		return fmt.Errorf("concatenate parts: %w", err)
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("concatenate parts exited %d: %s", result.ExitCode, result.Stderr)
	}
	return nil
}
