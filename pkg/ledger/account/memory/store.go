package memory

import (
	"context"
	"crypto/ed25519"
	"sync"

	"github.com/code-payments/code-auction/pkg/ledger/account"
)

type store struct {
	mu       sync.Mutex
	accounts map[string]*account.Record
}

func New() account.Store {
	return &store{
		accounts: make(map[string]*account.Record),
	}
}

func (s *store) reset() {
	s.mu.Lock()
	s.accounts = make(map[string]*account.Record)
	s.mu.Unlock()
}

// Get implements account.Store.Get
func (s *store) Get(_ context.Context, address ed25519.PublicKey) (*account.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.accounts[string(address)]
	if !ok {
		return nil, account.ErrAccountNotFound
	}

	cloned := item.Clone()
	return &cloned, nil
}

// GetMany implements account.Store.GetMany
func (s *store) GetMany(_ context.Context, addresses ...ed25519.PublicKey) ([]*account.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res []*account.Record
	for _, address := range addresses {
		if item, ok := s.accounts[string(address)]; ok {
			cloned := item.Clone()
			res = append(res, &cloned)
		}
	}
	return res, nil
}

// Commit implements account.Store.Commit
func (s *store) Commit(_ context.Context, records ...*account.Record) error {
	for _, record := range records {
		if err := record.Validate(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, record := range records {
		if record.IsClosed() {
			delete(s.accounts, string(record.Address))
			continue
		}

		cloned := record.Clone()
		s.accounts[string(record.Address)] = &cloned
	}

	return nil
}
