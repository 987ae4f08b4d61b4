package postgres

import (
	"context"
	"crypto/ed25519"
	"database/sql"
	"math"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mr-tron/base58/base58"
	"github.com/pkg/errors"

	pgutil "github.com/code-payments/code-auction/pkg/database/postgres"
	"github.com/code-payments/code-auction/pkg/ledger/account"
)

const (
	tableName = "auction__core_account"
)

type model struct {
	Address string `db:"address"`

	Lamports int64  `db:"lamports"`
	Owner    string `db:"owner"`
	Data     []byte `db:"data"`

	Executable bool `db:"executable"`

	UpdatedAt time.Time `db:"updated_at"`
}

func toModel(obj *account.Record) (*model, error) {
	if err := obj.Validate(); err != nil {
		return nil, err
	}

	if obj.Lamports > math.MaxInt64 {
		return nil, errors.Errorf("lamports exceed storable maximum: %d", obj.Lamports)
	}

	data := obj.Data
	if data == nil {
		data = []byte{}
	}

	return &model{
		Address:    base58.Encode(obj.Address),
		Lamports:   int64(obj.Lamports),
		Owner:      base58.Encode(obj.Owner),
		Data:       data,
		Executable: obj.Executable,
		UpdatedAt:  time.Now().UTC(),
	}, nil
}

func fromModel(obj *model) (*account.Record, error) {
	address, err := decodeKey(obj.Address)
	if err != nil {
		return nil, errors.Wrap(err, "invalid address")
	}

	owner, err := decodeKey(obj.Owner)
	if err != nil {
		return nil, errors.Wrap(err, "invalid owner")
	}

	return &account.Record{
		Address:    address,
		Lamports:   uint64(obj.Lamports),
		Owner:      owner,
		Data:       obj.Data,
		Executable: obj.Executable,
	}, nil
}

func decodeKey(s string) (ed25519.PublicKey, error) {
	b, err := base58.Decode(s)
	if err != nil {
		return nil, err
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, errors.Errorf("invalid key length: %d", len(b))
	}
	return b, nil
}

func (m *model) dbUpsert(ctx context.Context, tx *sqlx.Tx) error {
	query := `INSERT INTO ` + tableName + `
		(address, lamports, owner, data, executable, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (address)
		DO UPDATE
			SET lamports = $2, owner = $3, data = $4, executable = $5, updated_at = $6
			WHERE ` + tableName + `.address = $1`

	_, err := tx.ExecContext(
		ctx,
		query,
		m.Address,
		m.Lamports,
		m.Owner,
		m.Data,
		m.Executable,
		m.UpdatedAt,
	)
	return err
}

func (m *model) dbDelete(ctx context.Context, tx *sqlx.Tx) error {
	query := `DELETE FROM ` + tableName + ` WHERE address = $1`

	_, err := tx.ExecContext(ctx, query, m.Address)
	return err
}

func dbCommit(ctx context.Context, db *sqlx.DB, models []*model) error {
	return pgutil.ExecuteRetryable(func() error {
		return pgutil.ExecuteInTx(ctx, db, sql.LevelSerializable, func(tx *sqlx.Tx) error {
			for _, m := range models {
				var err error
				if m.Lamports == 0 {
					err = m.dbDelete(ctx, tx)
				} else {
					err = m.dbUpsert(ctx, tx)
				}
				if err != nil {
					return err
				}
			}
			return nil
		})
	})
}

func dbGet(ctx context.Context, db *sqlx.DB, address string) (*model, error) {
	res := &model{}

	query := `SELECT address, lamports, owner, data, executable, updated_at FROM ` + tableName + `
		WHERE address = $1`

	err := db.GetContext(ctx, res, query, address)
	if err != nil {
		return nil, pgutil.CheckNoRows(err, account.ErrAccountNotFound)
	}
	return res, nil
}

func dbGetMany(ctx context.Context, db *sqlx.DB, addresses []string) ([]*model, error) {
	if len(addresses) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(
		`SELECT address, lamports, owner, data, executable, updated_at FROM `+tableName+`
		WHERE address IN (?)`,
		addresses,
	)
	if err != nil {
		return nil, err
	}

	var res []*model
	err = db.SelectContext(ctx, &res, db.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	return res, nil
}
