package storage

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/ferreirogomes/matricula/models"
	"github.com/ferreirogomes/matricula/services"
)

// MemoryStore guarda tudo em memória. Serve para testes e para subir o serviço sem banco.
// Transações seguram o mutex inteiro e restauram um snapshot em caso de erro.
type MemoryStore struct {
	mu    sync.Mutex
	state *memState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemState()}
}

type memState struct {
	users       map[string]models.User
	nonces      map[string]models.Nonce
	assets      map[string]models.Asset
	proposals   []models.Proposal
	transfers   []models.Transfer
	validations []models.ValidationRecord
}

func newMemState() *memState {
	return &memState{
		users:  map[string]models.User{},
		nonces: map[string]models.Nonce{},
		assets: map[string]models.Asset{},
	}
}

func (s *memState) clone() *memState {
	return &memState{
		users:       maps.Clone(s.users),
		nonces:      maps.Clone(s.nonces),
		assets:      maps.Clone(s.assets),
		proposals:   slices.Clone(s.proposals),
		transfers:   slices.Clone(s.transfers),
		validations: slices.Clone(s.validations),
	}
}

func (m *MemoryStore) WithinTx(_ context.Context, fn func(repo services.Repository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	if err := fn(memRepo{s: m.state}); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

func (m *MemoryStore) do(fn func(r memRepo) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(memRepo{s: m.state})
}

func (m *MemoryStore) CreateNonce(ctx context.Context, n models.Nonce) error {
	return m.do(func(r memRepo) error { return r.CreateNonce(ctx, n) })
}

func (m *MemoryStore) GetNonce(ctx context.Context, value string) (n models.Nonce, err error) {
	err = m.do(func(r memRepo) error { n, err = r.GetNonce(ctx, value); return err })
	return n, err
}

func (m *MemoryStore) ConsumeNonce(ctx context.Context, value string, at time.Time) error {
	return m.do(func(r memRepo) error { return r.ConsumeNonce(ctx, value, at) })
}

func (m *MemoryStore) GetUserByWallet(ctx context.Context, wallet string) (u models.User, err error) {
	err = m.do(func(r memRepo) error { u, err = r.GetUserByWallet(ctx, wallet); return err })
	return u, err
}

func (m *MemoryStore) SaveUser(ctx context.Context, user models.User) (u models.User, err error) {
	err = m.do(func(r memRepo) error { u, err = r.SaveUser(ctx, user); return err })
	return u, err
}

func (m *MemoryStore) CreateAsset(ctx context.Context, a models.Asset) error {
	return m.do(func(r memRepo) error { return r.CreateAsset(ctx, a) })
}

func (m *MemoryStore) GetAsset(ctx context.Context, matricula string) (a models.Asset, err error) {
	err = m.do(func(r memRepo) error { a, err = r.GetAsset(ctx, matricula); return err })
	return a, err
}

func (m *MemoryStore) UpdateAsset(ctx context.Context, a models.Asset) error {
	return m.do(func(r memRepo) error { return r.UpdateAsset(ctx, a) })
}

func (m *MemoryStore) CreateProposal(ctx context.Context, p models.Proposal) error {
	return m.do(func(r memRepo) error { return r.CreateProposal(ctx, p) })
}

func (m *MemoryStore) GetProposal(ctx context.Context, id string) (p models.Proposal, err error) {
	err = m.do(func(r memRepo) error { p, err = r.GetProposal(ctx, id); return err })
	return p, err
}

func (m *MemoryStore) UpdateProposalStatus(ctx context.Context, id string, from, to models.ProposalStatus, at time.Time) error {
	return m.do(func(r memRepo) error { return r.UpdateProposalStatus(ctx, id, from, to, at) })
}

func (m *MemoryStore) ListProposalsByAsset(ctx context.Context, matricula string) (out []models.Proposal, err error) {
	err = m.do(func(r memRepo) error { out, err = r.ListProposalsByAsset(ctx, matricula); return err })
	return out, err
}

func (m *MemoryStore) ListProposals(ctx context.Context) (out []models.Proposal, err error) {
	err = m.do(func(r memRepo) error { out, err = r.ListProposals(ctx); return err })
	return out, err
}

func (m *MemoryStore) CreateTransfer(ctx context.Context, t models.Transfer) error {
	return m.do(func(r memRepo) error { return r.CreateTransfer(ctx, t) })
}

func (m *MemoryStore) GetTransferByProposal(ctx context.Context, proposalID string) (t models.Transfer, err error) {
	err = m.do(func(r memRepo) error { t, err = r.GetTransferByProposal(ctx, proposalID); return err })
	return t, err
}

func (m *MemoryStore) UpdateTransfer(ctx context.Context, transfer models.Transfer) (t models.Transfer, err error) {
	err = m.do(func(r memRepo) error { t, err = r.UpdateTransfer(ctx, transfer); return err })
	return t, err
}

func (m *MemoryStore) ListTransfersByAsset(ctx context.Context, matricula string) (out []models.Transfer, err error) {
	err = m.do(func(r memRepo) error { out, err = r.ListTransfersByAsset(ctx, matricula); return err })
	return out, err
}

func (m *MemoryStore) ListTransfers(ctx context.Context) (out []models.Transfer, err error) {
	err = m.do(func(r memRepo) error { out, err = r.ListTransfers(ctx); return err })
	return out, err
}

func (m *MemoryStore) CreateValidationRecord(ctx context.Context, v models.ValidationRecord) error {
	return m.do(func(r memRepo) error { return r.CreateValidationRecord(ctx, v) })
}

func (m *MemoryStore) ListValidationRecords(ctx context.Context) (out []models.ValidationRecord, err error) {
	err = m.do(func(r memRepo) error { out, err = r.ListValidationRecords(ctx); return err })
	return out, err
}

// memRepo opera sobre o estado sem travar; quem chama já segura o mutex.
type memRepo struct {
	s *memState
}

func (r memRepo) CreateNonce(_ context.Context, n models.Nonce) error {
	if _, ok := r.s.nonces[n.Value]; ok {
		return fmt.Errorf("%w: nonce duplicado", models.ErrConflict)
	}
	r.s.nonces[n.Value] = n
	return nil
}

func (r memRepo) GetNonce(_ context.Context, value string) (models.Nonce, error) {
	n, ok := r.s.nonces[value]
	if !ok {
		return models.Nonce{}, models.ErrNotFound
	}
	return n, nil
}

func (r memRepo) ConsumeNonce(_ context.Context, value string, at time.Time) error {
	n, ok := r.s.nonces[value]
	if !ok {
		return models.ErrNotFound
	}
	if n.ConsumedAt != nil {
		return fmt.Errorf("%w: nonce já consumido", models.ErrConflict)
	}
	n.ConsumedAt = &at
	r.s.nonces[value] = n
	return nil
}

func (r memRepo) GetUserByWallet(_ context.Context, wallet string) (models.User, error) {
	u, ok := r.s.users[models.CanonicalWallet(wallet)]
	if !ok {
		return models.User{}, models.ErrNotFound
	}
	return u, nil
}

func (r memRepo) SaveUser(_ context.Context, u models.User) (models.User, error) {
	key := models.CanonicalWallet(u.Wallet)
	if existing, ok := r.s.users[key]; ok {
		existing.Role = u.Role
		r.s.users[key] = existing
		return existing, nil
	}
	u.Wallet = key
	r.s.users[key] = u
	return u, nil
}

func (r memRepo) CreateAsset(_ context.Context, a models.Asset) error {
	if _, ok := r.s.assets[a.Matricula]; ok {
		return fmt.Errorf("%w: matrícula %q já registrada", models.ErrConflict, a.Matricula)
	}
	r.s.assets[a.Matricula] = a
	return nil
}

func (r memRepo) GetAsset(_ context.Context, matricula string) (models.Asset, error) {
	a, ok := r.s.assets[matricula]
	if !ok {
		return models.Asset{}, models.ErrNotFound
	}
	return a, nil
}

func (r memRepo) UpdateAsset(_ context.Context, a models.Asset) error {
	current, ok := r.s.assets[a.Matricula]
	if !ok {
		return models.ErrNotFound
	}
	current.PreviousOwner = a.PreviousOwner
	current.CurrentOwner = a.CurrentOwner
	current.SettlementRef = a.SettlementRef
	current.UpdatedAt = a.UpdatedAt
	r.s.assets[a.Matricula] = current
	return nil
}

func (r memRepo) CreateProposal(_ context.Context, p models.Proposal) error {
	if _, ok := r.s.assets[p.AssetID]; !ok {
		return models.ErrNotFound
	}
	if slices.ContainsFunc(r.s.proposals, func(q models.Proposal) bool { return q.ID == p.ID }) {
		return fmt.Errorf("%w: proposta duplicada", models.ErrConflict)
	}
	r.s.proposals = append(r.s.proposals, p)
	return nil
}

func (r memRepo) GetProposal(_ context.Context, id string) (models.Proposal, error) {
	i := slices.IndexFunc(r.s.proposals, func(p models.Proposal) bool { return p.ID == id })
	if i < 0 {
		return models.Proposal{}, models.ErrNotFound
	}
	return r.s.proposals[i], nil
}

func (r memRepo) UpdateProposalStatus(_ context.Context, id string, from, to models.ProposalStatus, at time.Time) error {
	i := slices.IndexFunc(r.s.proposals, func(p models.Proposal) bool { return p.ID == id })
	if i < 0 {
		return models.ErrNotFound
	}
	p := r.s.proposals[i]
	if p.Status != from {
		return fmt.Errorf("%w: proposta não está mais %s", models.ErrConflict, from)
	}
	p.Status = to
	p.DecidedAt = &at
	r.s.proposals[i] = p
	return nil
}

func (r memRepo) ListProposalsByAsset(_ context.Context, matricula string) ([]models.Proposal, error) {
	out := []models.Proposal{}
	for _, p := range r.s.proposals {
		if p.AssetID == matricula {
			out = append(out, p)
		}
	}
	slices.SortStableFunc(out, func(a, b models.Proposal) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

func (r memRepo) ListProposals(_ context.Context) ([]models.Proposal, error) {
	out := slices.Clone(r.s.proposals)
	slices.SortStableFunc(out, func(a, b models.Proposal) int { return a.CreatedAt.Compare(b.CreatedAt) })
	slices.Reverse(out)
	if out == nil {
		out = []models.Proposal{}
	}
	return out, nil
}

func (r memRepo) CreateTransfer(_ context.Context, t models.Transfer) error {
	if slices.ContainsFunc(r.s.transfers, func(x models.Transfer) bool { return x.ProposalID == t.ProposalID || x.ID == t.ID }) {
		return fmt.Errorf("%w: transferência já existe para a proposta", models.ErrConflict)
	}
	r.s.transfers = append(r.s.transfers, t)
	return nil
}

func (r memRepo) GetTransferByProposal(_ context.Context, proposalID string) (models.Transfer, error) {
	i := slices.IndexFunc(r.s.transfers, func(t models.Transfer) bool { return t.ProposalID == proposalID })
	if i < 0 {
		return models.Transfer{}, models.ErrNotFound
	}
	return r.s.transfers[i], nil
}

func (r memRepo) UpdateTransfer(_ context.Context, t models.Transfer) (models.Transfer, error) {
	i := slices.IndexFunc(r.s.transfers, func(x models.Transfer) bool { return x.ID == t.ID })
	if i < 0 {
		return models.Transfer{}, models.ErrNotFound
	}
	if r.s.transfers[i].Version != t.Version {
		return models.Transfer{}, fmt.Errorf("%w: transferência alterada concorrentemente", models.ErrConflict)
	}
	t.Version++
	r.s.transfers[i] = t
	return t, nil
}

func (r memRepo) ListTransfersByAsset(_ context.Context, matricula string) ([]models.Transfer, error) {
	out := []models.Transfer{}
	for _, t := range r.s.transfers {
		if t.AssetID == matricula {
			out = append(out, t)
		}
	}
	slices.SortStableFunc(out, func(a, b models.Transfer) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

func (r memRepo) ListTransfers(_ context.Context) ([]models.Transfer, error) {
	out := slices.Clone(r.s.transfers)
	slices.SortStableFunc(out, func(a, b models.Transfer) int { return a.CreatedAt.Compare(b.CreatedAt) })
	slices.Reverse(out)
	if out == nil {
		out = []models.Transfer{}
	}
	return out, nil
}

func (r memRepo) CreateValidationRecord(_ context.Context, v models.ValidationRecord) error {
	v.Validators = slices.Clone(v.Validators)
	r.s.validations = append(r.s.validations, v)
	return nil
}

func (r memRepo) ListValidationRecords(_ context.Context) ([]models.ValidationRecord, error) {
	out := slices.Clone(r.s.validations)
	slices.SortStableFunc(out, func(a, b models.ValidationRecord) int { return a.CreatedAt.Compare(b.CreatedAt) })
	slices.Reverse(out)
	if out == nil {
		out = []models.ValidationRecord{}
	}
	return out, nil
}

var _ services.Store = (*MemoryStore)(nil)
