package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ferreirogomes/matricula/models"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// Repository implementa services.Repository com sqlx. As consultas usam "?" e passam por Rebind.
type Repository struct {
	db       sqlx.ExtContext
	lockRows bool
}

func (r *Repository) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return r.db.ExecContext(ctx, r.db.Rebind(query), args...)
}

func (r *Repository) get(ctx context.Context, dest any, query string, args ...any) error {
	err := sqlx.GetContext(ctx, r.db, dest, r.db.Rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ErrNotFound
	}
	return err
}

func (r *Repository) selectAll(ctx context.Context, dest any, query string, args ...any) error {
	return sqlx.SelectContext(ctx, r.db, dest, r.db.Rebind(query), args...)
}

func writeErr(op string, err error) error {
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s: registro duplicado", models.ErrConflict, op)
	}
	return fmt.Errorf("falha ao %s: %w", op, err)
}

func toNanos(t time.Time) int64 { return t.UTC().UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func toNullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toNanos(*t), Valid: true}
}

func fromNullNanos(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

// Nonces

type nonceRow struct {
	ID         string        `db:"id"`
	Wallet     string        `db:"wallet"`
	Value      string        `db:"value"`
	CreatedAt  int64         `db:"created_at"`
	ConsumedAt sql.NullInt64 `db:"consumed_at"`
}

func (r *Repository) CreateNonce(ctx context.Context, n models.Nonce) error {
	_, err := r.exec(ctx, `INSERT INTO nonces (id, wallet, value, created_at, consumed_at) VALUES (?, ?, ?, ?, ?)`,
		n.ID, n.Wallet, n.Value, toNanos(n.CreatedAt), toNullNanos(n.ConsumedAt))
	if err != nil {
		return writeErr("salvar nonce", err)
	}
	return nil
}

func (r *Repository) GetNonce(ctx context.Context, value string) (models.Nonce, error) {
	var row nonceRow
	if err := r.get(ctx, &row, `SELECT id, wallet, value, created_at, consumed_at FROM nonces WHERE value = ?`, value); err != nil {
		return models.Nonce{}, err
	}
	return models.Nonce{
		ID:         row.ID,
		Wallet:     row.Wallet,
		Value:      row.Value,
		CreatedAt:  fromNanos(row.CreatedAt),
		ConsumedAt: fromNullNanos(row.ConsumedAt),
	}, nil
}

// ConsumeNonce marca o nonce como usado; um nonce já consumido é conflito.
func (r *Repository) ConsumeNonce(ctx context.Context, value string, at time.Time) error {
	res, err := r.exec(ctx, `UPDATE nonces SET consumed_at = ? WHERE value = ? AND consumed_at IS NULL`, toNanos(at), value)
	if err != nil {
		return writeErr("consumir nonce", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: nonce já consumido", models.ErrConflict)
	}
	return nil
}

// Usuários

type userRow struct {
	ID        string `db:"id"`
	Wallet    string `db:"wallet"`
	Role      string `db:"role"`
	CreatedAt int64  `db:"created_at"`
}

func (u userRow) model() models.User {
	return models.User{ID: u.ID, Wallet: u.Wallet, Role: models.Role(u.Role), CreatedAt: fromNanos(u.CreatedAt)}
}

func (r *Repository) GetUserByWallet(ctx context.Context, wallet string) (models.User, error) {
	var row userRow
	if err := r.get(ctx, &row, `SELECT id, wallet, role, created_at FROM users WHERE wallet = ?`, models.CanonicalWallet(wallet)); err != nil {
		return models.User{}, err
	}
	return row.model(), nil
}

// SaveUser insere ou atualiza o papel pela carteira e devolve o registro persistido.
func (r *Repository) SaveUser(ctx context.Context, u models.User) (models.User, error) {
	_, err := r.exec(ctx, `INSERT INTO users (id, wallet, role, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (wallet) DO UPDATE SET role = excluded.role`,
		u.ID, models.CanonicalWallet(u.Wallet), string(u.Role), toNanos(u.CreatedAt))
	if err != nil {
		return models.User{}, writeErr("salvar usuário", err)
	}
	return r.GetUserByWallet(ctx, u.Wallet)
}

// Imóveis

type assetRow struct {
	ID            string  `db:"id"`
	Matricula     string  `db:"matricula"`
	PreviousOwner string  `db:"previous_owner"`
	CurrentOwner  string  `db:"current_owner"`
	Latitude      float64 `db:"latitude"`
	Longitude     float64 `db:"longitude"`
	SettlementRef string  `db:"settlement_ref"`
	CreatedBy     string  `db:"created_by"`
	CreatedAt     int64   `db:"created_at"`
	UpdatedAt     int64   `db:"updated_at"`
}

const assetColumns = `id, matricula, previous_owner, current_owner, latitude, longitude, settlement_ref, created_by, created_at, updated_at`

func (r *Repository) CreateAsset(ctx context.Context, a models.Asset) error {
	_, err := r.exec(ctx, `INSERT INTO assets (`+assetColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Matricula, a.PreviousOwner, a.CurrentOwner, a.Latitude, a.Longitude,
		a.SettlementRef, a.CreatedBy, toNanos(a.CreatedAt), toNanos(a.UpdatedAt))
	if err != nil {
		return writeErr("salvar imóvel", err)
	}
	return nil
}

func (r *Repository) GetAsset(ctx context.Context, matricula string) (models.Asset, error) {
	var row assetRow
	if err := r.get(ctx, &row, `SELECT `+assetColumns+` FROM assets WHERE matricula = ?`, matricula); err != nil {
		return models.Asset{}, err
	}
	return models.Asset{
		ID:            row.ID,
		Matricula:     row.Matricula,
		PreviousOwner: row.PreviousOwner,
		CurrentOwner:  row.CurrentOwner,
		Latitude:      row.Latitude,
		Longitude:     row.Longitude,
		SettlementRef: row.SettlementRef,
		CreatedBy:     row.CreatedBy,
		CreatedAt:     fromNanos(row.CreatedAt),
		UpdatedAt:     fromNanos(row.UpdatedAt),
	}, nil
}

func (r *Repository) UpdateAsset(ctx context.Context, a models.Asset) error {
	res, err := r.exec(ctx, `UPDATE assets SET previous_owner = ?, current_owner = ?, settlement_ref = ?, updated_at = ? WHERE matricula = ?`,
		a.PreviousOwner, a.CurrentOwner, a.SettlementRef, toNanos(a.UpdatedAt), a.Matricula)
	if err != nil {
		return writeErr("atualizar imóvel", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}
	return nil
}

// Propostas

type proposalRow struct {
	ID         string              `db:"id"`
	Matricula  string              `db:"matricula"`
	Proposer   string              `db:"proposer"`
	Owner      string              `db:"owner"`
	Amount     decimal.Decimal     `db:"amount"`
	Percentage decimal.NullDecimal `db:"percentage"`
	Note       string              `db:"note"`
	Status     string              `db:"status"`
	CreatedAt  int64               `db:"created_at"`
	DecidedAt  sql.NullInt64       `db:"decided_at"`
}

func (p proposalRow) model() models.Proposal {
	return models.Proposal{
		ID:         p.ID,
		AssetID:    p.Matricula,
		Proposer:   p.Proposer,
		Owner:      p.Owner,
		Amount:     p.Amount,
		Percentage: p.Percentage,
		Note:       p.Note,
		Status:     models.ProposalStatus(p.Status),
		CreatedAt:  fromNanos(p.CreatedAt),
		DecidedAt:  fromNullNanos(p.DecidedAt),
	}
}

const proposalColumns = `id, matricula, proposer, owner, amount, percentage, note, status, created_at, decided_at`

func (r *Repository) CreateProposal(ctx context.Context, p models.Proposal) error {
	_, err := r.exec(ctx, `INSERT INTO proposals (`+proposalColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.AssetID, p.Proposer, p.Owner, p.Amount.String(), p.Percentage,
		p.Note, string(p.Status), toNanos(p.CreatedAt), toNullNanos(p.DecidedAt))
	if err != nil {
		return writeErr("salvar proposta", err)
	}
	return nil
}

func (r *Repository) GetProposal(ctx context.Context, id string) (models.Proposal, error) {
	var row proposalRow
	if err := r.get(ctx, &row, `SELECT `+proposalColumns+` FROM proposals WHERE id = ?`, id); err != nil {
		return models.Proposal{}, err
	}
	return row.model(), nil
}

// UpdateProposalStatus só altera a proposta se ela ainda estiver em from.
func (r *Repository) UpdateProposalStatus(ctx context.Context, id string, from, to models.ProposalStatus, at time.Time) error {
	res, err := r.exec(ctx, `UPDATE proposals SET status = ?, decided_at = ? WHERE id = ? AND status = ?`,
		string(to), toNanos(at), id, string(from))
	if err != nil {
		return writeErr("atualizar proposta", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.GetProposal(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("%w: proposta não está mais %s", models.ErrConflict, from)
	}
	return nil
}

func (r *Repository) listProposals(ctx context.Context, query string, args ...any) ([]models.Proposal, error) {
	var rows []proposalRow
	if err := r.selectAll(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("falha ao listar propostas: %w", err)
	}
	out := make([]models.Proposal, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.model())
	}
	return out, nil
}

func (r *Repository) ListProposalsByAsset(ctx context.Context, matricula string) ([]models.Proposal, error) {
	return r.listProposals(ctx, `SELECT `+proposalColumns+` FROM proposals WHERE matricula = ? ORDER BY created_at, seq`, matricula)
}

func (r *Repository) ListProposals(ctx context.Context) ([]models.Proposal, error) {
	return r.listProposals(ctx, `SELECT `+proposalColumns+` FROM proposals ORDER BY created_at DESC, seq DESC`)
}

// Transferências

type transferRow struct {
	ID              string `db:"id"`
	ProposalID      string `db:"proposal_id"`
	Matricula       string `db:"matricula"`
	Owner           string `db:"owner"`
	Buyer           string `db:"buyer"`
	OwnerSigned     bool   `db:"owner_signed"`
	BuyerSigned     bool   `db:"buyer_signed"`
	RegulatorSigned bool   `db:"regulator_signed"`
	FinancialSigned bool   `db:"financial_signed"`
	Status          string `db:"status"`
	SettlementRef   string `db:"settlement_ref"`
	Version         int64  `db:"version"`
	CreatedAt       int64  `db:"created_at"`
	UpdatedAt       int64  `db:"updated_at"`
}

func (t transferRow) model() models.Transfer {
	return models.Transfer{
		ID:              t.ID,
		ProposalID:      t.ProposalID,
		AssetID:         t.Matricula,
		Owner:           t.Owner,
		Buyer:           t.Buyer,
		OwnerSigned:     t.OwnerSigned,
		BuyerSigned:     t.BuyerSigned,
		RegulatorSigned: t.RegulatorSigned,
		FinancialSigned: t.FinancialSigned,
		Status:          models.TransferStatus(t.Status),
		SettlementRef:   t.SettlementRef,
		Version:         t.Version,
		CreatedAt:       fromNanos(t.CreatedAt),
		UpdatedAt:       fromNanos(t.UpdatedAt),
	}
}

const transferColumns = `id, proposal_id, matricula, owner, buyer, owner_signed, buyer_signed, regulator_signed, financial_signed, status, settlement_ref, version, created_at, updated_at`

func (r *Repository) CreateTransfer(ctx context.Context, t models.Transfer) error {
	_, err := r.exec(ctx, `INSERT INTO transfers (`+transferColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.ProposalID, t.AssetID, t.Owner, t.Buyer,
		t.OwnerSigned, t.BuyerSigned, t.RegulatorSigned, t.FinancialSigned,
		string(t.Status), t.SettlementRef, t.Version, toNanos(t.CreatedAt), toNanos(t.UpdatedAt))
	if err != nil {
		return writeErr("salvar transferência", err)
	}
	return nil
}

func (r *Repository) GetTransferByProposal(ctx context.Context, proposalID string) (models.Transfer, error) {
	query := `SELECT ` + transferColumns + ` FROM transfers WHERE proposal_id = ?`
	if r.lockRows {
		query += ` FOR UPDATE`
	}
	var row transferRow
	if err := r.get(ctx, &row, query, proposalID); err != nil {
		return models.Transfer{}, err
	}
	return row.model(), nil
}

// UpdateTransfer grava flags, status e referência se a versão lida ainda for a atual.
func (r *Repository) UpdateTransfer(ctx context.Context, t models.Transfer) (models.Transfer, error) {
	res, err := r.exec(ctx, `UPDATE transfers SET owner_signed = ?, buyer_signed = ?, regulator_signed = ?, financial_signed = ?,
		status = ?, settlement_ref = ?, version = version + 1, updated_at = ? WHERE id = ? AND version = ?`,
		t.OwnerSigned, t.BuyerSigned, t.RegulatorSigned, t.FinancialSigned,
		string(t.Status), t.SettlementRef, toNanos(t.UpdatedAt), t.ID, t.Version)
	if err != nil {
		return models.Transfer{}, writeErr("atualizar transferência", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.Transfer{}, fmt.Errorf("%w: transferência alterada concorrentemente", models.ErrConflict)
	}
	t.Version++
	return t, nil
}

func (r *Repository) listTransfers(ctx context.Context, query string, args ...any) ([]models.Transfer, error) {
	var rows []transferRow
	if err := r.selectAll(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("falha ao listar transferências: %w", err)
	}
	out := make([]models.Transfer, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.model())
	}
	return out, nil
}

func (r *Repository) ListTransfersByAsset(ctx context.Context, matricula string) ([]models.Transfer, error) {
	return r.listTransfers(ctx, `SELECT `+transferColumns+` FROM transfers WHERE matricula = ? ORDER BY created_at, seq`, matricula)
}

func (r *Repository) ListTransfers(ctx context.Context) ([]models.Transfer, error) {
	return r.listTransfers(ctx, `SELECT `+transferColumns+` FROM transfers ORDER BY created_at DESC, seq DESC`)
}

// Validações

type validationRow struct {
	ID            string `db:"id"`
	TxRef         string `db:"tx_ref"`
	Validators    string `db:"validators"`
	Approvals     int    `db:"approvals"`
	Required      int    `db:"required"`
	Status        string `db:"status"`
	SettlementRef string `db:"settlement_ref"`
	CreatedAt     int64  `db:"created_at"`
}

func (r *Repository) CreateValidationRecord(ctx context.Context, v models.ValidationRecord) error {
	names, err := json.Marshal(v.Validators)
	if err != nil {
		return fmt.Errorf("falha ao serializar validadores: %w", err)
	}
	_, err = r.exec(ctx, `INSERT INTO validation_records (id, tx_ref, validators, approvals, required, status, settlement_ref, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.TxRef, string(names), v.Approvals, v.Required, string(v.Status), v.SettlementRef, toNanos(v.CreatedAt))
	if err != nil {
		return writeErr("salvar validação", err)
	}
	return nil
}

func (r *Repository) ListValidationRecords(ctx context.Context) ([]models.ValidationRecord, error) {
	var rows []validationRow
	err := r.selectAll(ctx, &rows, `SELECT id, tx_ref, validators, approvals, required, status, settlement_ref, created_at
		FROM validation_records ORDER BY created_at DESC, seq DESC`)
	if err != nil {
		return nil, fmt.Errorf("falha ao listar validações: %w", err)
	}
	out := make([]models.ValidationRecord, 0, len(rows))
	for _, row := range rows {
		var names []string
		if err := json.Unmarshal([]byte(row.Validators), &names); err != nil {
			return nil, fmt.Errorf("validação %s com validadores corrompidos: %w", row.ID, err)
		}
		out = append(out, models.ValidationRecord{
			ID:            row.ID,
			TxRef:         row.TxRef,
			Validators:    names,
			Approvals:     row.Approvals,
			Required:      row.Required,
			Status:        models.ValidationStatus(row.Status),
			SettlementRef: row.SettlementRef,
			CreatedAt:     fromNanos(row.CreatedAt),
		})
	}
	return out, nil
}
