package app

import (
	"context"
	"errors"
	"fmt"

	"gateflow/internal/config"
	"gateflow/internal/repo"
)

const DefaultRegistryID = "default"

// ResolveRegistry picks the active registry configuration. A registry file
// given explicitly is validated and stored first; otherwise the DB copy wins,
// then a gateflow.yml in the workspace, then the built-in default, which is
// seeded into the DB.
func ResolveRegistry(ctx context.Context, r repo.Repo, workspace, registryFile, registryID string) (*config.Config, error) {
	if registryFile != "" {
		cfg, err := config.FromFile(registryFile)
		if err != nil {
			return nil, err
		}
		return storeRegistry(ctx, r, cfg, registryID)
	}
	if registryID != "" {
		cfg, err := r.GetRegistryConfig(ctx, registryID)
		if err == nil {
			return cfg, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return nil, err
		}
	} else {
		cfg, err := r.SingleRegistryConfig(ctx)
		if err == nil {
			return cfg, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return nil, err
		}
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		id := registryID
		if id == "" {
			id = DefaultRegistryID
		}
		cfg = config.Default(id)
	}
	return storeRegistry(ctx, r, cfg, registryID)
}

func storeRegistry(ctx context.Context, r repo.Repo, cfg *config.Config, registryID string) (*config.Config, error) {
	id := registryID
	if id == "" {
		id = cfg.Registry.ID
	}
	if id == "" {
		id = DefaultRegistryID
	}
	if err := r.UpsertRegistryConfig(ctx, id, cfg); err != nil {
		return nil, fmt.Errorf("store registry config: %w", err)
	}
	return cfg, nil
}
