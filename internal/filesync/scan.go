package filesync

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// credentialPatterns is the fixed list spec.md §4.5 calls for: API keys,
// tokens, passwords, SSH private keys, and AWS/Stripe secrets. Fourteen
// patterns, one per line below, each named for what it flags.
var credentialPatterns = []struct {
	name    string
	pattern *regexp.Regexp
}{
	{"aws_access_key_id", regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`)},
	{"aws_secret_access_key", regexp.MustCompile(`(?i)aws_secret_access_key\s*[:=]\s*['"]?[A-Za-z0-9/+=]{40}['"]?`)},
	{"generic_api_key", regexp.MustCompile(`(?i)\bapi[_-]?key\s*[:=]\s*['"]?[A-Za-z0-9_\-]{16,}['"]?`)},
	{"generic_secret", regexp.MustCompile(`(?i)\bsecret\s*[:=]\s*['"]?[A-Za-z0-9_\-]{16,}['"]?`)},
	{"generic_password", regexp.MustCompile(`(?i)\bpassword\s*[:=]\s*['"]?\S{6,}['"]?`)},
	{"bearer_token", regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9\-._~+/]{20,}`)},
	{"github_token", regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{36,}\b`)},
	{"slack_token", regexp.MustCompile(`\bxox[baprs]-[A-Za-z0-9-]{10,}\b`)},
	{"stripe_secret_key", regexp.MustCompile(`\bsk_(live|test)_[A-Za-z0-9]{16,}\b`)},
	{"stripe_publishable_key", regexp.MustCompile(`\bpk_(live|test)_[A-Za-z0-9]{16,}\b`)},
	{"private_key_block", regexp.MustCompile(`-----BEGIN (RSA |EC |OPENSSH |DSA |)PRIVATE KEY-----`)},
	{"jwt", regexp.MustCompile(`\beyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\b`)},
	{"google_api_key", regexp.MustCompile(`\bAIza[0-9A-Za-z_-]{35}\b`)},
	{"anthropic_api_key", regexp.MustCompile(`\bsk-ant-[A-Za-z0-9_-]{20,}\b`)},
}

// textFileExtensions and knownTextBasenames decide which files are worth
// reading for scanning; everything else is treated as binary and
// skipped.
var textFileExtensions = map[string]bool{
	".env": true, ".txt": true, ".json": true, ".yaml": true, ".yml": true,
	".toml": true, ".ini": true, ".cfg": true, ".conf": true, ".sh": true,
	".bash": true, ".zsh": true, ".go": true, ".py": true, ".js": true,
	".ts": true, ".rb": true, ".properties": true, ".pem": true, ".key": true,
}

var knownTextBasenames = map[string]bool{
	".env": true, ".envrc": true, ".netrc": true, "credentials": true,
}

// ScanResult is the outcome of ScanForCredentials.
type ScanResult struct {
	HasSuspiciousFiles bool
	SuspiciousFiles    []SuspiciousFile
	Recommendation     string
}

// SuspiciousFile names a file and the pattern(s) that matched within it.
type SuspiciousFile struct {
	Path     string
	Patterns []string
}

// ScanForCredentials walks root, reading recognized text files and
// matching their contents against a fixed set of credential-shaped
// patterns. Binary files and excluded directories (.git, node_modules,
// vendor) are skipped without being opened.
func ScanForCredentials(root string) (*ScanResult, error) {
	result := &ScanResult{}

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			switch info.Name() {
			case ".git", "node_modules", "vendor":
				return filepath.SkipDir
			}
			return nil
		}
		if !looksLikeText(info.Name()) {
			return nil
		}

		matches, scanErr := scanFile(path)
		if scanErr != nil {
			return nil // unreadable file: skip, don't fail the whole scan
		}
		if len(matches) > 0 {
			result.HasSuspiciousFiles = true
			result.SuspiciousFiles = append(result.SuspiciousFiles, SuspiciousFile{Path: path, Patterns: matches})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("filesync: scan for credentials: %w", err)
	}

	if result.HasSuspiciousFiles {
		result.Recommendation = "Review and remove suspected credentials before uploading this worktree to a sandbox."
	} else {
		result.Recommendation = "No suspicious credential-shaped content found."
	}
	return result, nil
}

func looksLikeText(name string) bool {
	if knownTextBasenames[strings.ToLower(name)] {
		return true
	}
	return textFileExtensions[strings.ToLower(filepath.Ext(name))]
}

func scanFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	seen := make(map[string]bool)
	var matched []string

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		for _, p := range credentialPatterns {
			if seen[p.name] {
				continue
			}
			if p.pattern.MatchString(line) {
				seen[p.name] = true
				matched = append(matched, p.name)
			}
		}
	}
	return matched, nil
}
