package bootstrap

import (
	"context"

	"github.com/turtacn/NaturaCheck/internal/application/evaluation"
	"github.com/turtacn/NaturaCheck/internal/config"
	"github.com/turtacn/NaturaCheck/internal/domain/catalog"
	"github.com/turtacn/NaturaCheck/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/NaturaCheck/internal/interfaces/http/handlers"
)

// LoadCatalog reads the catalog at path, or the embedded one when path is
// empty.
func LoadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Default()
	}
	return catalog.LoadFile(path)
}

// Apply swaps the catalog and policy of cfg into svc.
func Apply(ctx context.Context, svc evaluation.Service, cfg config.EligibilityConfig) (string, error) {
	cat, err := LoadCatalog(cfg.CatalogPath)
	if err != nil {
		return "", err
	}
	if err := svc.Reload(ctx, cat, cfg.Policy); err != nil {
		return "", err
	}
	return cat.Version(), nil
}

// CatalogReloader re-reads the config file at configPath (environment only
// when empty) and applies its eligibility section.
func CatalogReloader(configPath string, svc evaluation.Service, logger logging.Logger) handlers.Reloader {
	log := logging.OrNop(logger).Named("reload")
	return func(ctx context.Context) (string, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			log.Error("config reload failed", logging.Err(err))
			return "", err
		}
		version, err := Apply(ctx, svc, cfg.Eligibility)
		if err != nil {
			log.Error("catalog reload failed", logging.Err(err))
			return "", err
		}
		return version, nil
	}
}

