package main

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"splicestore/internal/store"
	"splicestore/pkg/domain"
)

// fileConfig is the YAML configuration schema. Environment variables override
// the storage and blob sections when their fields are left empty.
type fileConfig struct {
	Store struct {
		Name        string            `yaml:"name"`
		Version     int               `yaml:"version"`
		Party       string            `yaml:"party"`
		Participant string            `yaml:"participant"`
		Keys        map[string]string `yaml:"keys"`
	} `yaml:"store"`
	Migration int64 `yaml:"migration"`
	Storage   struct {
		Driver      string `yaml:"driver"`
		SQLitePath  string `yaml:"sqlite_path"`
		PostgresDSN string `yaml:"postgres_dsn"`
	} `yaml:"storage"`
	Templates []templateConfig `yaml:"templates"`
	Parties   []string         `yaml:"parties"`
	Ingest    struct {
		UpdatesFile string `yaml:"updates_file"`
		QueueSize   int    `yaml:"queue_size"`
	} `yaml:"ingest"`
	MetricsAddr string `yaml:"metrics_addr"`
	Restore     struct {
		Domain               string   `yaml:"domain"`
		SequencerConnections []string `yaml:"sequencer_connections"`
		DarKeys              []string `yaml:"dar_keys"`
		SnapshotKey          string   `yaml:"snapshot_key"`
		Hooks                struct {
			Disconnect string `yaml:"disconnect"`
			UploadDar  string `yaml:"upload_dar"`
			Register   string `yaml:"register"`
			ImportAcs  string `yaml:"import_acs"`
			Connect    string `yaml:"connect"`
		} `yaml:"hooks"`
	} `yaml:"restore"`
}

type templateConfig struct {
	ID          string   `yaml:"id"`
	IndexFields []string `yaml:"index_fields"`
}

// loadConfig reads and validates the YAML configuration file.
func loadConfig(path string) (*fileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.Store.Name == "" {
		return nil, fmt.Errorf("config %s: store.name required", path)
	}
	if cfg.Store.Party == "" {
		return nil, fmt.Errorf("config %s: store.party required", path)
	}
	if len(cfg.Templates) == 0 {
		return nil, fmt.Errorf("config %s: at least one template required", path)
	}
	for i, t := range cfg.Templates {
		if t.ID == "" {
			return nil, fmt.Errorf("config %s: templates[%d].id required", path, i)
		}
	}
	return &cfg, nil
}

func (c *fileConfig) descriptor() domain.StoreDescriptor {
	return domain.StoreDescriptor{
		Name:        c.Store.Name,
		Version:     c.Store.Version,
		Party:       domain.PartyID(c.Store.Party),
		Participant: c.Store.Participant,
		Keys:        c.Store.Keys,
	}
}

func (c *fileConfig) filter() *domain.ContractFilter {
	f := domain.NewContractFilter()
	for _, t := range c.Templates {
		f.Register(domain.TemplateID(t.ID), domain.TemplateHandler{
			Project: domain.FieldProjection(t.IndexFields...),
		})
	}
	return f
}

func (c *fileConfig) parties() []domain.PartyID {
	out := make([]domain.PartyID, 0, len(c.Parties))
	for _, p := range c.Parties {
		out = append(out, domain.PartyID(p))
	}
	return out
}

func (c *fileConfig) templateIDs() []domain.TemplateID {
	out := make([]domain.TemplateID, 0, len(c.Templates))
	for _, t := range c.Templates {
		out = append(out, domain.TemplateID(t.ID))
	}
	return out
}

// openStore opens the configured storage backend, falling back to
// environment selection when the storage section is empty.
func (c *fileConfig) openStore(logger *slog.Logger, onReset func()) (domain.Store, error) {
	storeCfg := store.Config{
		Descriptor: c.descriptor(),
		Migration:  domain.MigrationID(c.Migration),
		Filter:     c.filter(),
		Logger:     logger,
		OnReset:    onReset,
	}
	if c.Storage.Driver == "" {
		return store.Open(storeCfg)
	}
	driver := store.StorageDriver(c.Storage.Driver)
	location := c.Storage.SQLitePath
	if driver == store.StoragePostgres {
		location = c.Storage.PostgresDSN
	}
	return store.OpenDriverAt(driver, location, storeCfg)
}
