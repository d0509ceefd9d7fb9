package filesync

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/frankbria/parallel-cc-sub000/internal/sandbox"
)

const sizeTolerance = 0.01 // 1%

// VerifyResult is the outcome of VerifyUpload.
type VerifyResult struct {
	Matches       bool
	RemoteFiles   int
	RemoteBytes   int64
	ExpectedFiles int
	ExpectedBytes int64
}

// VerifyUpload counts files and total size on the remote side and
// compares them against the tarball metadata, allowing a 1% tolerance on
// size to absorb filesystem block-size rounding.
func VerifyUpload(ctx context.Context, handle sandbox.Handle, remoteDir string, expected *TarballResult) (*VerifyResult, error) {
	countCmd := fmt.Sprintf("find %s -type f | wc -l", ShellQuote(remoteDir))
	countResult, err := handle.Run(ctx, countCmd, 0)
	if err != nil {
		return nil, fmt.Errorf("filesync: count remote files: %w", err)
	}
	remoteFiles, err := strconv.Atoi(strings.TrimSpace(countResult.Stdout))
	if err != nil {
		return nil, fmt.Errorf("filesync: parse remote file count %q: %w", countResult.Stdout, err)
	}

	sizeCmd := fmt.Sprintf("du -sb %s | cut -f1", ShellQuote(remoteDir))
	sizeResult, err := handle.Run(ctx, sizeCmd, 0)
	if err != nil {
		return nil, fmt.Errorf("filesync: measure remote size: %w", err)
	}
	remoteBytes, err := strconv.ParseInt(strings.TrimSpace(sizeResult.Stdout), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("filesync: parse remote size %q: %w", sizeResult.Stdout, err)
	}

	result := &VerifyResult{
		RemoteFiles:   remoteFiles,
		RemoteBytes:   remoteBytes,
		ExpectedFiles: expected.FileCount,
		ExpectedBytes: expected.SizeBytes,
	}

	sizeDiff := float64(remoteBytes-expected.SizeBytes) / float64(expected.SizeBytes)
	if sizeDiff < 0 {
		sizeDiff = -sizeDiff
	}

	result.Matches = remoteFiles == expected.FileCount && sizeDiff <= sizeTolerance
	return result, nil
}
