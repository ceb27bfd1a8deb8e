package antifraud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"growth-pipeline/pkg/featureflags"

	"gorm.io/gorm"
)

// ConfigSource loads the current antifraud config. A nil config with a nil
// error means none is configured.
type ConfigSource interface {
	Load(ctx context.Context) (*Config, error)
}

// DatabaseSource reads the config from the system_configs table.
type DatabaseSource struct {
	db  *gorm.DB
	key string
}

func NewDatabaseSource(db *gorm.DB, key string) *DatabaseSource {
	return &DatabaseSource{db: db, key: key}
}

func (s *DatabaseSource) Load(ctx context.Context) (*Config, error) {
	var row SystemConfig
	err := s.db.WithContext(ctx).Where("config_key = ?", s.key).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load system config %q: %w", s.key, err)
	}

	cfg, err := decode(row.Value)
	if err != nil {
		return nil, err
	}
	if cfg.Version == 0 {
		cfg.Version = row.Version
	}
	return cfg, nil
}

// FlagsmithSource reads the config from the remote value of a Flagsmith
// feature. A disabled feature yields no config.
type FlagsmithSource struct {
	flags featureflags.FeatureFlag
	name  string
}

func NewFlagsmithSource(flags featureflags.FeatureFlag, name string) *FlagsmithSource {
	return &FlagsmithSource{flags: flags, name: name}
}

func (s *FlagsmithSource) Load(ctx context.Context) (*Config, error) {
	features, err := s.flags.Features(ctx)
	if err != nil {
		return nil, fmt.Errorf("load flagsmith features: %w", err)
	}

	for _, f := range features {
		if f.FeatureName != s.name {
			continue
		}
		if !f.Enabled {
			return nil, nil
		}

		var raw []byte
		switch v := f.Value.(type) {
		case string:
			raw = []byte(v)
		case nil:
			return nil, nil
		default:
			raw, err = json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("encode flag %q value: %w", s.name, err)
			}
		}
		return decode(raw)
	}
	return nil, nil
}

func decode(raw []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("decode antifraud config: %w", err)
	}
	return &cfg, nil
}
