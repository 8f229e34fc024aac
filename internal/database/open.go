package database

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/JonMunkholm/fisler/internal/config"
	"github.com/JonMunkholm/fisler/internal/core"
)

// Open returns the store selected by cfg.Driver. For postgres the embedded
// migrations run first when AutoMigrate is set.
func Open(ctx context.Context, cfg config.DatabaseConfig) (core.Store, error) {
	switch cfg.Driver {
	case config.DriverBolt:
		store, err := NewBolt(cfg.BoltPath)
		if err != nil {
			return nil, err
		}
		slog.Info("opened bolt store", "path", cfg.BoltPath)
		return store, nil

	case config.DriverPostgres, "":
		if cfg.AutoMigrate {
			if err := Migrate(cfg.URL); err != nil {
				return nil, err
			}
		}
		store, err := NewPostgres(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if u, err := url.Parse(cfg.URL); err == nil {
			slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
		} else {
			slog.Info("connected to database")
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}
