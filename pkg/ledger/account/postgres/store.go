package postgres

import (
	"context"
	"crypto/ed25519"

	"github.com/jmoiron/sqlx"
	"github.com/mr-tron/base58/base58"

	"github.com/code-payments/code-auction/pkg/ledger/account"
)

type store struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) account.Store {
	return &store{
		db: db,
	}
}

// Get implements account.Store.Get
func (s *store) Get(ctx context.Context, address ed25519.PublicKey) (*account.Record, error) {
	m, err := dbGet(ctx, s.db, base58.Encode(address))
	if err != nil {
		return nil, err
	}
	return fromModel(m)
}

// GetMany implements account.Store.GetMany
func (s *store) GetMany(ctx context.Context, addresses ...ed25519.PublicKey) ([]*account.Record, error) {
	encoded := make([]string, len(addresses))
	for i, address := range addresses {
		encoded[i] = base58.Encode(address)
	}

	models, err := dbGetMany(ctx, s.db, encoded)
	if err != nil {
		return nil, err
	}

	byAddress := make(map[string]*model, len(models))
	for _, m := range models {
		byAddress[m.Address] = m
	}

	var res []*account.Record
	for _, address := range encoded {
		m, ok := byAddress[address]
		if !ok {
			continue
		}

		record, err := fromModel(m)
		if err != nil {
			return nil, err
		}
		res = append(res, record)
	}
	return res, nil
}

// Commit implements account.Store.Commit
func (s *store) Commit(ctx context.Context, records ...*account.Record) error {
	models := make([]*model, len(records))
	for i, record := range records {
		m, err := toModel(record)
		if err != nil {
			return err
		}
		models[i] = m
	}

	return dbCommit(ctx, s.db, models)
}
