package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Queries implements Querier over pgx.
type Queries struct {
	db DBTX
}

var _ Querier = (*Queries)(nil)

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

type scanner interface {
	Scan(dest ...any) error
}

const walletColumns = `id, tier, created_at, updated_at`

func scanWallet(row scanner) (Wallet, error) {
	var w Wallet
	err := row.Scan(&w.ID, &w.Tier, &w.CreatedAt, &w.UpdatedAt)
	return w, err
}

const upsertWallet = `
INSERT INTO wallets (id, tier, created_at, updated_at)
VALUES ($1, $2, $3, $3)
ON CONFLICT (id) DO UPDATE SET tier = EXCLUDED.tier, updated_at = EXCLUDED.updated_at
RETURNING ` + walletColumns

func (q *Queries) UpsertWallet(ctx context.Context, arg UpsertWalletParams) (Wallet, error) {
	w, err := scanWallet(q.db.QueryRow(ctx, upsertWallet, arg.ID, arg.Tier, arg.Now))
	return w, mapError(err)
}

const ensureWallet = `
INSERT INTO wallets (id, tier, created_at, updated_at)
VALUES ($1, $2, $3, $3)
ON CONFLICT (id) DO NOTHING`

func (q *Queries) EnsureWallet(ctx context.Context, arg UpsertWalletParams) (Wallet, error) {
	if _, err := q.db.Exec(ctx, ensureWallet, arg.ID, arg.Tier, arg.Now); err != nil {
		return Wallet{}, mapError(err)
	}
	return q.GetWallet(ctx, arg.ID)
}

func (q *Queries) GetWallet(ctx context.Context, id string) (Wallet, error) {
	w, err := scanWallet(q.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1`, id))
	return w, mapError(err)
}

func (q *Queries) LockWallet(ctx context.Context, id string) (Wallet, error) {
	w, err := scanWallet(q.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1 FOR UPDATE`, id))
	return w, mapError(err)
}

func (q *Queries) ListWalletIDs(ctx context.Context, afterID string, limit int32) ([]string, error) {
	rows, err := q.db.Query(ctx, `SELECT id FROM wallets WHERE id > $1 ORDER BY id LIMIT $2`, afterID, limit)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan wallet id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, mapError(rows.Err())
}

const ledgerColumns = `id, wallet_id, kind, amount, currency, state, hold_until, related_order_id,
	related_payout_id, idempotency_key, commission_rate, created_at, updated_at`

func scanLedgerEntry(row scanner) (LedgerEntry, error) {
	var e LedgerEntry
	err := row.Scan(&e.ID, &e.WalletID, &e.Kind, &e.Amount, &e.Currency, &e.State, &e.HoldUntil,
		&e.RelatedOrderID, &e.RelatedPayoutID, &e.IdempotencyKey, &e.CommissionRate, &e.CreatedAt, &e.UpdatedAt)
	return e, err
}

func collectLedgerEntries(rows pgx.Rows) ([]LedgerEntry, error) {
	defer rows.Close()
	var entries []LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, mapError(rows.Err())
}

const insertLedgerEntry = `
INSERT INTO ledger_entries (id, wallet_id, kind, amount, currency, state, hold_until, related_order_id,
	related_payout_id, idempotency_key, commission_rate, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
RETURNING ` + ledgerColumns

func (q *Queries) InsertLedgerEntry(ctx context.Context, arg InsertLedgerEntryParams) (LedgerEntry, error) {
	e, err := scanLedgerEntry(q.db.QueryRow(ctx, insertLedgerEntry,
		arg.ID, arg.WalletID, arg.Kind, arg.Amount, arg.Currency, arg.State, arg.HoldUntil,
		arg.RelatedOrderID, arg.RelatedPayoutID, arg.IdempotencyKey, arg.CommissionRate, arg.CreatedAt))
	return e, mapError(err)
}

func (q *Queries) GetLedgerEntry(ctx context.Context, id string) (LedgerEntry, error) {
	e, err := scanLedgerEntry(q.db.QueryRow(ctx, `SELECT `+ledgerColumns+` FROM ledger_entries WHERE id = $1`, id))
	return e, mapError(err)
}

func (q *Queries) GetLedgerEntryByKey(ctx context.Context, idempotencyKey string) (LedgerEntry, error) {
	e, err := scanLedgerEntry(q.db.QueryRow(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries WHERE idempotency_key = $1`, idempotencyKey))
	return e, mapError(err)
}

func (q *Queries) ListOrderEntries(ctx context.Context, orderID string) ([]LedgerEntry, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries WHERE related_order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, mapError(err)
	}
	return collectLedgerEntries(rows)
}

func (q *Queries) ListLedgerEntries(ctx context.Context, arg ListLedgerEntriesParams) ([]LedgerEntry, error) {
	clauses := []string{"wallet_id = $1"}
	args := []any{arg.WalletID}
	add := func(clause string, v any) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if arg.State != "" {
		add("state = $%d", arg.State)
	}
	if arg.Kind != "" {
		add("kind = $%d", arg.Kind)
	}
	if arg.OrderID != "" {
		add("related_order_id = $%d", arg.OrderID)
	}
	if arg.BeforeID != "" {
		add("id < $%d", arg.BeforeID)
	}
	args = append(args, arg.Limit)
	query := fmt.Sprintf(`SELECT %s FROM ledger_entries WHERE %s ORDER BY id DESC LIMIT $%d`,
		ledgerColumns, strings.Join(clauses, " AND "), len(args))

	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	return collectLedgerEntries(rows)
}

const transitionLedgerEntry = `
UPDATE ledger_entries SET state = $3, updated_at = $4
WHERE id = $1 AND state = $2`

func (q *Queries) TransitionLedgerEntry(ctx context.Context, arg TransitionLedgerEntryParams) (int64, error) {
	tag, err := q.db.Exec(ctx, transitionLedgerEntry, arg.ID, arg.FromState, arg.ToState, arg.Now)
	if err != nil {
		return 0, mapError(err)
	}
	return tag.RowsAffected(), nil
}

const listDueSales = `
SELECT wallet_id, related_order_id
FROM ledger_entries
WHERE state = 'pending' AND hold_until <= $1 AND related_order_id <> ''
GROUP BY wallet_id, related_order_id
ORDER BY MIN(hold_until), related_order_id
LIMIT $2`

func (q *Queries) ListDueSales(ctx context.Context, arg ListDueSalesParams) ([]DueSale, error) {
	rows, err := q.db.Query(ctx, listDueSales, arg.Now, arg.Limit)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var due []DueSale
	for rows.Next() {
		var d DueSale
		if err := rows.Scan(&d.WalletID, &d.RelatedOrderID); err != nil {
			return nil, fmt.Errorf("scan due sale: %w", err)
		}
		due = append(due, d)
	}
	return due, mapError(rows.Err())
}

const sumWalletBalances = `
SELECT
	COALESCE(SUM(amount) FILTER (WHERE state = 'available'), 0)::BIGINT,
	COALESCE(SUM(amount) FILTER (WHERE state = 'pending'), 0)::BIGINT,
	COALESCE(SUM(amount) FILTER (WHERE state = 'settled'), 0)::BIGINT,
	(SELECT COALESCE(SUM(amount), 0)::BIGINT FROM payout_requests
		WHERE wallet_id = $1 AND status IN ('reserved', 'dispatched')),
	(SELECT COALESCE(SUM(amount), 0)::BIGINT FROM payout_requests
		WHERE wallet_id = $1 AND status = 'confirmed')
FROM ledger_entries
WHERE wallet_id = $1`

func (q *Queries) SumWalletBalances(ctx context.Context, walletID string) (WalletBalances, error) {
	var b WalletBalances
	err := q.db.QueryRow(ctx, sumWalletBalances, walletID).Scan(&b.Available, &b.Pending, &b.Settled, &b.Reserved, &b.Confirmed)
	return b, mapError(err)
}

const sumWalletKinds = `
SELECT
	COALESCE(SUM(amount) FILTER (WHERE kind = 'sale_credit'), 0)::BIGINT,
	COALESCE(SUM(amount) FILTER (WHERE kind = 'commission_debit'), 0)::BIGINT,
	COALESCE(SUM(amount) FILTER (WHERE kind = 'reversal'), 0)::BIGINT,
	COALESCE(SUM(amount) FILTER (WHERE kind = 'payout_debit'), 0)::BIGINT
FROM ledger_entries
WHERE wallet_id = $1`

func (q *Queries) SumWalletKinds(ctx context.Context, walletID string) (WalletKindSums, error) {
	var k WalletKindSums
	err := q.db.QueryRow(ctx, sumWalletKinds, walletID).Scan(&k.SaleCredits, &k.CommissionDebits, &k.Reversals, &k.PayoutDebits)
	return k, mapError(err)
}

func (q *Queries) NextReleaseAt(ctx context.Context, walletID string) (*time.Time, error) {
	var next *time.Time
	err := q.db.QueryRow(ctx,
		`SELECT MIN(hold_until) FROM ledger_entries WHERE wallet_id = $1 AND state = 'pending'`, walletID).Scan(&next)
	if err != nil {
		return nil, mapError(err)
	}
	return next, nil
}

const payoutColumns = `id, wallet_id, amount, currency, method, destination, status, request_key,
	provider_reference, failure_reason, attempts, requested_at, dispatched_at, last_attempt_at,
	resolved_at, released_at, updated_at`

func scanPayoutRequest(row scanner) (PayoutRequest, error) {
	var p PayoutRequest
	err := row.Scan(&p.ID, &p.WalletID, &p.Amount, &p.Currency, &p.Method, &p.Destination, &p.Status,
		&p.RequestKey, &p.ProviderReference, &p.FailureReason, &p.Attempts, &p.RequestedAt, &p.DispatchedAt,
		&p.LastAttemptAt, &p.ResolvedAt, &p.ReleasedAt, &p.UpdatedAt)
	return p, err
}

func collectPayoutRequests(rows pgx.Rows) ([]PayoutRequest, error) {
	defer rows.Close()
	var out []PayoutRequest
	for rows.Next() {
		p, err := scanPayoutRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payout request: %w", err)
		}
		out = append(out, p)
	}
	return out, mapError(rows.Err())
}

const insertPayoutRequest = `
INSERT INTO payout_requests (id, wallet_id, amount, currency, method, destination, status, request_key,
	requested_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
RETURNING ` + payoutColumns

func (q *Queries) InsertPayoutRequest(ctx context.Context, arg InsertPayoutRequestParams) (PayoutRequest, error) {
	p, err := scanPayoutRequest(q.db.QueryRow(ctx, insertPayoutRequest,
		arg.ID, arg.WalletID, arg.Amount, arg.Currency, arg.Method, arg.Destination, arg.Status,
		arg.RequestKey, arg.RequestedAt))
	return p, mapError(err)
}

func (q *Queries) GetPayoutRequest(ctx context.Context, id string) (PayoutRequest, error) {
	p, err := scanPayoutRequest(q.db.QueryRow(ctx, `SELECT `+payoutColumns+` FROM payout_requests WHERE id = $1`, id))
	return p, mapError(err)
}

func (q *Queries) GetPayoutRequestForUpdate(ctx context.Context, id string) (PayoutRequest, error) {
	p, err := scanPayoutRequest(q.db.QueryRow(ctx,
		`SELECT `+payoutColumns+` FROM payout_requests WHERE id = $1 FOR UPDATE`, id))
	return p, mapError(err)
}

func (q *Queries) GetPayoutRequestByKey(ctx context.Context, requestKey string) (PayoutRequest, error) {
	p, err := scanPayoutRequest(q.db.QueryRow(ctx,
		`SELECT `+payoutColumns+` FROM payout_requests WHERE request_key = $1`, requestKey))
	return p, mapError(err)
}

func (q *Queries) GetPayoutRequestByReference(ctx context.Context, method, reference string) (PayoutRequest, error) {
	p, err := scanPayoutRequest(q.db.QueryRow(ctx,
		`SELECT `+payoutColumns+` FROM payout_requests WHERE method = $1 AND provider_reference = $2`, method, reference))
	return p, mapError(err)
}

func (q *Queries) ListPayoutRequests(ctx context.Context, arg ListPayoutRequestsParams) ([]PayoutRequest, error) {
	rows, err := q.db.Query(ctx, `
SELECT `+payoutColumns+` FROM payout_requests
WHERE wallet_id = $1 AND ($2 = '' OR status = $2)
ORDER BY requested_at DESC, id DESC
LIMIT $3 OFFSET $4`, arg.WalletID, arg.Status, arg.Limit, arg.Offset)
	if err != nil {
		return nil, mapError(err)
	}
	return collectPayoutRequests(rows)
}

const claimDispatchablePayouts = `
SELECT ` + payoutColumns + ` FROM payout_requests
WHERE status = 'reserved'
	OR (status = 'dispatched' AND provider_reference = '' AND attempts < $2 AND last_attempt_at <= $1)
ORDER BY requested_at, id
LIMIT $3
FOR UPDATE SKIP LOCKED`

func (q *Queries) ClaimDispatchablePayouts(ctx context.Context, arg ClaimDispatchablePayoutsParams) ([]PayoutRequest, error) {
	rows, err := q.db.Query(ctx, claimDispatchablePayouts, arg.RetryBefore, arg.MaxAttempts, arg.Limit)
	if err != nil {
		return nil, mapError(err)
	}
	return collectPayoutRequests(rows)
}

const transitionPayoutRequest = `
UPDATE payout_requests SET
	status = $3,
	dispatched_at = COALESCE(dispatched_at, $4::TIMESTAMPTZ),
	last_attempt_at = COALESCE($5::TIMESTAMPTZ, last_attempt_at),
	resolved_at = COALESCE($6::TIMESTAMPTZ, resolved_at),
	released_at = COALESCE($7::TIMESTAMPTZ, released_at),
	attempts = attempts + CASE WHEN $8::BOOLEAN THEN 1 ELSE 0 END,
	failure_reason = CASE WHEN $9::TEXT = '' THEN failure_reason ELSE $9::TEXT END,
	provider_reference = CASE WHEN $10::TEXT = '' THEN provider_reference ELSE $10::TEXT END,
	updated_at = $11
WHERE id = $1 AND status = ANY($2::TEXT[])`

func (q *Queries) TransitionPayoutRequest(ctx context.Context, arg TransitionPayoutRequestParams) (int64, error) {
	tag, err := q.db.Exec(ctx, transitionPayoutRequest,
		arg.ID, arg.From, arg.To, arg.DispatchedAt, arg.LastAttemptAt, arg.ResolvedAt, arg.ReleasedAt,
		arg.IncrementAttempts, arg.FailureReason, arg.ProviderReference, arg.Now)
	if err != nil {
		return 0, mapError(err)
	}
	return tag.RowsAffected(), nil
}

const setPayoutProviderReference = `
UPDATE payout_requests SET provider_reference = $2, updated_at = $3
WHERE id = $1 AND status = 'dispatched' AND provider_reference = ''`

func (q *Queries) SetPayoutProviderReference(ctx context.Context, arg SetPayoutProviderReferenceParams) (int64, error) {
	tag, err := q.db.Exec(ctx, setPayoutProviderReference, arg.ID, arg.ProviderReference, arg.Now)
	if err != nil {
		return 0, mapError(err)
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) ListTimedOutPayouts(ctx context.Context, arg ListTimedOutPayoutsParams) ([]PayoutRequest, error) {
	rows, err := q.db.Query(ctx, `
SELECT `+payoutColumns+` FROM payout_requests
WHERE status = 'dispatched' AND dispatched_at <= $1
ORDER BY dispatched_at, id
LIMIT $2`, arg.DispatchedBefore, arg.Limit)
	if err != nil {
		return nil, mapError(err)
	}
	return collectPayoutRequests(rows)
}

func (q *Queries) CountPayoutsByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := q.db.Query(ctx, `SELECT status, COUNT(*) FROM payout_requests GROUP BY status`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan payout count: %w", err)
		}
		counts[status] = n
	}
	return counts, mapError(rows.Err())
}

const payoutAccountColumns = `wallet_id, method, identifier, created_at, updated_at`

func scanPayoutAccount(row scanner) (PayoutAccount, error) {
	var a PayoutAccount
	err := row.Scan(&a.WalletID, &a.Method, &a.Identifier, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

const upsertPayoutAccount = `
INSERT INTO payout_accounts (wallet_id, method, identifier, created_at, updated_at)
VALUES ($1, $2, $3, $4, $4)
ON CONFLICT (wallet_id, method) DO UPDATE SET identifier = EXCLUDED.identifier, updated_at = EXCLUDED.updated_at
RETURNING ` + payoutAccountColumns

func (q *Queries) UpsertPayoutAccount(ctx context.Context, arg UpsertPayoutAccountParams) (PayoutAccount, error) {
	a, err := scanPayoutAccount(q.db.QueryRow(ctx, upsertPayoutAccount, arg.WalletID, arg.Method, arg.Identifier, arg.Now))
	return a, mapError(err)
}

func (q *Queries) GetPayoutAccount(ctx context.Context, walletID, method string) (PayoutAccount, error) {
	a, err := scanPayoutAccount(q.db.QueryRow(ctx,
		`SELECT `+payoutAccountColumns+` FROM payout_accounts WHERE wallet_id = $1 AND method = $2`, walletID, method))
	return a, mapError(err)
}

func (q *Queries) ListPayoutAccounts(ctx context.Context, walletID string) ([]PayoutAccount, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+payoutAccountColumns+` FROM payout_accounts WHERE wallet_id = $1 ORDER BY method`, walletID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []PayoutAccount
	for rows.Next() {
		a, err := scanPayoutAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payout account: %w", err)
		}
		out = append(out, a)
	}
	return out, mapError(rows.Err())
}

const auditColumns = `id, entity_type, entity_id, wallet_id, cause, prev_state, next_state, metadata, created_at`

func scanAuditLog(row scanner) (AuditLog, error) {
	var a AuditLog
	err := row.Scan(&a.ID, &a.EntityType, &a.EntityID, &a.WalletID, &a.Cause, &a.PrevState, &a.NextState, &a.Metadata, &a.CreatedAt)
	return a, err
}

const insertAuditLog = `
INSERT INTO audit_log (entity_type, entity_id, wallet_id, cause, prev_state, next_state, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING ` + auditColumns

func (q *Queries) InsertAuditLog(ctx context.Context, arg InsertAuditLogParams) (AuditLog, error) {
	a, err := scanAuditLog(q.db.QueryRow(ctx, insertAuditLog,
		arg.EntityType, arg.EntityID, arg.WalletID, arg.Cause, arg.PrevState, arg.NextState, arg.Metadata, arg.CreatedAt))
	return a, mapError(err)
}

func (q *Queries) ListAuditLogs(ctx context.Context, entityID string) ([]AuditLog, error) {
	rows, err := q.db.Query(ctx, `SELECT `+auditColumns+` FROM audit_log WHERE entity_id = $1 ORDER BY id`, entityID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []AuditLog
	for rows.Next() {
		a, err := scanAuditLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		out = append(out, a)
	}
	return out, mapError(rows.Err())
}

const idempotencyColumns = `idempotency_key, request_hash, method, path, in_progress, response_status,
	response_body, content_type, created_at, updated_at`

func scanIdempotencyKey(row scanner) (IdempotencyKey, error) {
	var k IdempotencyKey
	err := row.Scan(&k.IdempotencyKey, &k.RequestHash, &k.Method, &k.Path, &k.InProgress, &k.ResponseStatus,
		&k.ResponseBody, &k.ContentType, &k.CreatedAt, &k.UpdatedAt)
	return k, err
}

func (q *Queries) GetIdempotencyKey(ctx context.Context, key string) (IdempotencyKey, error) {
	k, err := scanIdempotencyKey(q.db.QueryRow(ctx,
		`SELECT `+idempotencyColumns+` FROM idempotency_keys WHERE idempotency_key = $1`, key))
	return k, mapError(err)
}

const reserveIdempotencyKey = `
INSERT INTO idempotency_keys (idempotency_key, request_hash, method, path, in_progress, created_at, updated_at)
VALUES ($1, $2, $3, $4, TRUE, $5, $5)
ON CONFLICT (idempotency_key) DO NOTHING`

func (q *Queries) ReserveIdempotencyKey(ctx context.Context, arg ReserveIdempotencyKeyParams) (bool, error) {
	tag, err := q.db.Exec(ctx, reserveIdempotencyKey, arg.IdempotencyKey, arg.RequestHash, arg.Method, arg.Path, arg.Now)
	if err != nil {
		return false, mapError(err)
	}
	return tag.RowsAffected() == 1, nil
}

const finalizeIdempotencyKey = `
UPDATE idempotency_keys
SET in_progress = FALSE, response_status = $3, response_body = $4, content_type = $5, updated_at = $6
WHERE idempotency_key = $1 AND request_hash = $2
RETURNING ` + idempotencyColumns

func (q *Queries) FinalizeIdempotencyKey(ctx context.Context, arg FinalizeIdempotencyKeyParams) (IdempotencyKey, error) {
	k, err := scanIdempotencyKey(q.db.QueryRow(ctx, finalizeIdempotencyKey,
		arg.IdempotencyKey, arg.RequestHash, arg.ResponseStatus, arg.ResponseBody, arg.ContentType, arg.Now))
	return k, mapError(err)
}
