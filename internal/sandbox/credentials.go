package sandbox

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/awnumar/memguard"
)

// CredentialSet holds short-lived STS credentials for a single sandbox,
// kept in a memguard-locked buffer so they're wiped from process memory
// (not just garbage-collected) once the sandbox terminates.
type CredentialSet struct {
	AccessKeyID     string
	SessionToken    *memguard.LockedBuffer
	SecretAccessKey *memguard.LockedBuffer
	Expiration      string
}

// Wipe destroys the locked buffers. Safe to call more than once.
func (c *CredentialSet) Wipe() {
	if c == nil {
		return
	}
	if c.SecretAccessKey != nil {
		c.SecretAccessKey.Destroy()
	}
	if c.SessionToken != nil {
		c.SessionToken.Destroy()
	}
}

// CredentialProvider issues scoped, time-limited credentials for sandboxes
// via AWS STS AssumeRole, so a compromised sandbox can't retain access
// past its own lifetime.
type CredentialProvider struct {
	client  *sts.Client
	roleARN string
}

// NewCredentialProvider loads the default AWS config chain (env vars,
// shared config, EC2/ECS instance role) and targets roleARN for
// per-sandbox AssumeRole calls.
func NewCredentialProvider(ctx context.Context, roleARN string) (*CredentialProvider, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("sandbox: load aws config: %w", err)
	}
	return &CredentialProvider{client: sts.NewFromConfig(cfg), roleARN: roleARN}, nil
}

// Provision assumes the configured role under a session name scoped to
// sandboxID, so CloudTrail can attribute calls back to a specific
// sandbox.
func (p *CredentialProvider) Provision(ctx context.Context, sandboxID string, durationSeconds int32) (*CredentialSet, error) {
	sessionName := "sandbox-" + sandboxID
	out, err := p.client.AssumeRole(ctx, &sts.AssumeRoleInput{
		RoleArn:         &p.roleARN,
		RoleSessionName: &sessionName,
		DurationSeconds: &durationSeconds,
	})
	if err != nil {
		return nil, fmt.Errorf("sandbox: assume role for %s: %w", sandboxID, err)
	}
	if out.Credentials == nil {
		return nil, fmt.Errorf("sandbox: assume role for %s returned no credentials", sandboxID)
	}

	secret, err := memguard.NewImmutable([]byte(*out.Credentials.SecretAccessKey))
	if err != nil {
		return nil, fmt.Errorf("sandbox: lock secret access key: %w", err)
	}
	token, err := memguard.NewImmutable([]byte(*out.Credentials.SessionToken))
	if err != nil {
		secret.Destroy()
		return nil, fmt.Errorf("sandbox: lock session token: %w", err)
	}

	return &CredentialSet{
		AccessKeyID:     *out.Credentials.AccessKeyId,
		SecretAccessKey: secret,
		SessionToken:    token,
		Expiration:      out.Credentials.Expiration.UTC().Format("2006-01-02T15:04:05Z"),
	}, nil
}
