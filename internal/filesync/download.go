package filesync

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/frankbria/parallel-cc-sub000/internal/sandbox"
)

// DownloadFailed wraps an error encountered while downloading changed
// files from a sandbox.
type DownloadFailed struct{ Err error }

func (e *DownloadFailed) Error() string {
	return fmt.Sprintf("filesync: download failed: %v", e.Err)
}
func (e *DownloadFailed) Unwrap() error { return e.Err }

// DownloadResult is the outcome of DownloadChangedFiles.
type DownloadResult struct {
	Success         bool
	FilesDownloaded int
	SizeBytes       int64
	Duration        time.Duration
	Error           error
}

// DownloadChangedFiles enumerates modified, added, and renamed paths via
// the remote VCS's porcelain status output, builds a remote tarball
// containing only those paths, downloads and extracts it into localDir,
// then removes the remote tarball.
func DownloadChangedFiles(ctx context.Context, handle sandbox.Handle, remoteDir, localDir string) (*DownloadResult, error) {
	start := time.Now()

	statusCmd := fmt.Sprintf("cd %s && git status --porcelain", ShellQuote(remoteDir))
	statusResult, err := handle.Run(ctx, statusCmd, 0)
	if err != nil {
		return nil, &DownloadFailed{Err: fmt.Errorf("remote git status: %w", err)}
	}

	paths := parsePorcelainPaths(statusResult.Stdout)
	if len(paths) == 0 {
		return &DownloadResult{Success: true, FilesDownloaded: 0, Duration: time.Since(start)}, nil
	}

	for _, p := range paths {
		if err := ValidatePath(p); err != nil {
			return &DownloadResult{Success: false, Error: err}, nil
		}
	}

	remoteTar := remoteDir + "/changed-files.tar.gz"
	tarArgs := append([]string{"tar", "-czf", remoteTar, "-C", remoteDir}, paths...)
	tarCmd := ShellJoin(tarArgs)
	if result, err := handle.Run(ctx, tarCmd, 0); err != nil || result.ExitCode != 0 {
		if err == nil {
			err = fmt.Errorf("remote tar exited %d: %s", result.ExitCode, result.Stderr)
		}
		return &DownloadResult{Success: false, Error: err}, nil
	}

	data, err := handle.ReadFile(ctx, remoteTar)
	if err != nil {
		return &DownloadResult{Success: false, Error: err}, nil
	}

	if err := os.MkdirAll(localDir, 0o755); err != nil {
		return nil, &DownloadFailed{Err: fmt.Errorf("create local dir: %w", err)}
	}
	if err := extractTarball(data, localDir); err != nil {
		return &DownloadResult{Success: false, Error: err}, nil
	}

	cleanupCmd := fmt.Sprintf("rm -f %s", ShellQuote(remoteTar))
	_, _ = handle.Run(ctx, cleanupCmd, 0)

	return &DownloadResult{
		Success:         true,
		FilesDownloaded: len(paths),
		SizeBytes:       int64(len(data)),
		Duration:        time.Since(start),
	}, nil
}

// parsePorcelainPaths extracts the file path from each `git status
// --porcelain` line, handling the renamed-path "old -> new" form by
// keeping the new path.
func parsePorcelainPaths(output string) []string {
	var paths []string
	for _, line := range strings.Split(output, "\n") {
		if len(line) < 4 {
			continue
		}
		rest := strings.TrimSpace(line[3:])
		if idx := strings.Index(rest, " -> "); idx != -1 {
			rest = rest[idx+4:]
		}
		rest = strings.Trim(rest, `"`)
		if rest != "" {
			paths = append(paths, rest)
		}
	}
	return paths
}

func extractTarball(data []byte, destDir string) error {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("open gzip stream: %w", err)
	}
	defer gr.Close()

	tr := tar.NewReader(gr)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tar entry: %w", err)
		}
		if err := ValidatePath(header.Name); err != nil {
			return fmt.Errorf("tar entry %s: %w", header.Name, err)
		}

		target := filepath.Join(destDir, header.Name)
		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(header.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return err
			}
			f.Close()
		}
	}
}
