package execdriver

import (
	"strings"

	"github.com/frankbria/parallel-cc-sub000/internal/git"
)

// ResolveGitIdentity applies spec.md §4.6 phase 5's priority order: both
// CLI overrides set wins outright; else both env overrides set; else the
// local repo's configured user/email if both are readable; else the
// hardcoded default. Partial pairs (name set, email not, or vice versa)
// fall through to the next tier rather than being used half-populated.
func ResolveGitIdentity(opts RunOptions, localRepo git.Runner) GitIdentity {
	if opts.GitUserCLI != "" && opts.GitEmailCLI != "" {
		return GitIdentity{Name: opts.GitUserCLI, Email: opts.GitEmailCLI, Source: GitIdentityCLI}
	}
	if opts.GitUserEnv != "" && opts.GitEmailEnv != "" {
		return GitIdentity{Name: opts.GitUserEnv, Email: opts.GitEmailEnv, Source: GitIdentityEnv}
	}
	if localRepo != nil {
		if name, email, ok := readLocalIdentity(localRepo); ok {
			return GitIdentity{Name: name, Email: email, Source: GitIdentityAuto}
		}
	}
	return DefaultGitIdentity
}

func readLocalIdentity(localRepo git.Runner) (name, email string, ok bool) {
	name, nameErr := localRepo.Run("config", "user.name")
	if nameErr != nil {
		return "", "", false
	}
	email, emailErr := localRepo.Run("config", "user.email")
	if emailErr != nil {
		return "", "", false
	}
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)
	if name == "" || email == "" {
		return "", "", false
	}
	return name, email, true
}
