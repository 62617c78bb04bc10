package registry

import (
	"context"

	"github.com/morezero/cim-broker/pkg/cim"
	"github.com/morezero/cim-broker/pkg/db"
)

// PGStore is a Store backed by the PostgreSQL repository.
type PGStore struct {
	repo *db.Repository
}

// NewPGStore wraps repo.
func NewPGStore(repo *db.Repository) *PGStore {
	return &PGStore{repo: repo}
}

func moduleOf(row *db.ProviderModuleRow) *cim.ProviderModule {
	if row == nil {
		return nil
	}
	m := row.ToModule()
	return &m
}

func (s *PGStore) GetModule(ctx context.Context, name string) (*cim.ProviderModule, error) {
	row, err := s.repo.GetModule(ctx, name)
	if err != nil {
		return nil, err
	}
	return moduleOf(row), nil
}

func (s *PGStore) ListModules(ctx context.Context) ([]cim.ProviderModule, error) {
	rows, err := s.repo.ListModules(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]cim.ProviderModule, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.ToModule())
	}
	return out, nil
}

func (s *PGStore) ModuleNamesForGroup(ctx context.Context, group string) ([]string, error) {
	return s.repo.ListModuleNamesForGroup(ctx, group)
}

func (s *PGStore) UpsertModule(ctx context.Context, m cim.ProviderModule) error {
	_, err := s.repo.UpsertModule(ctx, db.ModuleRow(m))
	return err
}

func (s *PGStore) UpsertProvider(ctx context.Context, p cim.Provider) error {
	return s.repo.UpsertProvider(ctx, p.ProviderModuleName, p.Name)
}

func (s *PGStore) UpdateModuleStatus(ctx context.Context, name string, remove, add []uint16) (*cim.ProviderModule, error) {
	row, err := s.repo.UpdateModuleStatus(ctx, name, remove, add)
	if err != nil {
		return nil, err
	}
	return moduleOf(row), nil
}

func (s *PGStore) LookupIndicationConsumer(ctx context.Context, destination string) (*Consumer, error) {
	row, err := s.repo.LookupIndicationConsumer(ctx, destination)
	if err != nil || row == nil {
		return nil, err
	}
	return &Consumer{Destination: row.Destination, Module: row.ModuleName, Provider: row.ProviderName}, nil
}

func (s *PGStore) UpsertIndicationConsumer(ctx context.Context, c Consumer) error {
	return s.repo.UpsertIndicationConsumer(ctx, db.IndicationConsumerRow{
		Destination: c.Destination, ModuleName: c.Module, ProviderName: c.Provider,
	})
}

func (s *PGStore) Ping(ctx context.Context) error { return s.repo.Ping(ctx) }
