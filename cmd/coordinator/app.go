package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/frankbria/parallel-cc-sub000/internal/claims"
	"github.com/frankbria/parallel-cc-sub000/internal/config"
	"github.com/frankbria/parallel-cc-sub000/internal/coordinator"
	"github.com/frankbria/parallel-cc-sub000/internal/filesync"
	"github.com/frankbria/parallel-cc-sub000/internal/sandbox"
	"github.com/frankbria/parallel-cc-sub000/internal/store"
	"github.com/frankbria/parallel-cc-sub000/internal/worktree"
)

// app bundles the long-lived collaborators a single CLI invocation needs:
// an open store handle, the coordinator, and the claim manager, all bound
// to one repository. Construction mirrors cmd/alphie's pattern of opening
// the project (or global) database, migrating it to latest, and layering
// the orchestration types on top.
type app struct {
	db     *store.DB
	cfg    *config.Config
	coord  *coordinator.Coordinator
	claims *claims.Manager
	wt     *worktree.Manager
}

// openApp opens the store for repoPath (project-local unless --global-db
// was passed), migrates it to the latest schema, and constructs the
// coordinator/claims managers bound to it.
func openApp(repoPath string) (*app, error) {
	cfg := loadConfig()

	var db *store.DB
	var err error
	if globalDB {
		db, err = store.OpenGlobal()
	} else {
		db, err = store.OpenProject(repoPath)
	}
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	if err := db.MigrateToLatest(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}

	wt, err := worktree.New("", repoPath, cfg.Stale.WorktreePrefix)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init worktree adapter: %w", err)
	}

	claimMgr := claims.New(db, cfg.Claims.DefaultTTL)
	coord := coordinator.New(db, wt, claimMgr, coordinator.Options{
		StaleAfter:  cfg.Stale.HeartbeatThreshold,
		AutoCleanup: cfg.Stale.AutoCleanup,
	})

	return &app{db: db, cfg: cfg, coord: coord, claims: claimMgr, wt: wt}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

// buildSandboxMetrics constructs a fresh sandbox.Metrics registered
// against a process-local registry. Each CLI invocation is its own
// process (see the "sandbox" command's doc comment), so there's no
// shared process-wide default registry to collide with.
func buildSandboxMetrics() *sandbox.Metrics {
	return sandbox.NewMetrics(prometheus.NewRegistry())
}

// buildCredentialProvider constructs a sandbox.CredentialProvider when
// cfg.Sandbox.CredentialsRoleARN is configured; returns nil, nil
// otherwise, meaning "don't provision scoped credentials."
func buildCredentialProvider(ctx context.Context, cfg *config.Config) (*sandbox.CredentialProvider, error) {
	if cfg.Sandbox.CredentialsRoleARN == "" {
		return nil, nil
	}
	return sandbox.NewCredentialProvider(ctx, cfg.Sandbox.CredentialsRoleARN)
}

// buildAuditMirror constructs a filesync.AuditMirror when
// cfg.Audit.Bucket is configured; returns nil, nil otherwise, meaning
// "don't mirror uploaded tarballs."
func buildAuditMirror(ctx context.Context, cfg *config.Config) (*filesync.AuditMirror, error) {
	if cfg.Audit.Bucket == "" {
		return nil, nil
	}
	return filesync.NewAuditMirror(ctx, cfg.Audit.Bucket)
}
