package database

import (
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/fisler/internal/config"
)

func TestApplyPoolSettings(t *testing.T) {
	tests := []struct {
		name         string
		cfg          config.DatabaseConfig
		wantMax      int32
		wantLifetime time.Duration
		wantIdle     time.Duration
	}{
		{
			name:         "zero values keep pgxpool defaults",
			cfg:          config.DatabaseConfig{MaxConns: 2},
			wantMax:      2,
			wantLifetime: time.Hour,
			wantIdle:     30 * time.Minute,
		},
		{
			name:         "configured values win",
			cfg:          config.DatabaseConfig{MaxConns: 10, MinConns: 2, MaxConnLifetime: 5 * time.Minute, MaxConnIdleTime: time.Minute},
			wantMax:      10,
			wantLifetime: 5 * time.Minute,
			wantIdle:     time.Minute,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pc, err := pgxpool.ParseConfig("postgres://fisler@localhost:5432/fisler")
			if err != nil {
				t.Fatal(err)
			}
			applyPoolSettings(pc, tt.cfg)
			if pc.MaxConns != tt.wantMax {
				t.Errorf("MaxConns = %d, want %d", pc.MaxConns, tt.wantMax)
			}
			if pc.MaxConnLifetime != tt.wantLifetime || pc.MaxConnIdleTime != tt.wantIdle {
				t.Errorf("lifetime/idle = %v/%v, want %v/%v", pc.MaxConnLifetime, pc.MaxConnIdleTime, tt.wantLifetime, tt.wantIdle)
			}
		})
	}
}
