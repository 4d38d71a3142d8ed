package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/marketplace-wallet/internal/repository"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	pgUniqueViolationCode    = "23505"
	pgSerializationCode      = "40001"
	pgDeadlockCode           = "40P01"
	pgLockNotAvailableCode   = "55P03"
	sqliteBusyCode           = 5
	sqliteLockedCode         = 6
	sqliteConstraintUnique   = 2067
	sqliteConstraintPrimary  = 1555
	activePayoutStatusFilter = "status IN ('reserved', 'dispatched')"
)

// Store implements the repository contract using GORM.
type Store struct {
	db      *gorm.DB
	queries *Queries
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db, queries: &Queries{db: db}}
}

// Queries returns the non-transactional query set.
func (s *Store) Queries() repository.Querier {
	return s.queries
}

// RunInTx executes fn within a transaction. Only the Querier passed to fn may be
// used inside it; SQLite stores run on a single connection.
func (s *Store) RunInTx(ctx context.Context, fn func(q repository.Querier) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Queries{db: tx})
	})
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Migrate creates or updates every table.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Queries implements repository.Querier over a gorm handle.
type Queries struct {
	db *gorm.DB
}

var _ repository.Querier = (*Queries)(nil)

func (q *Queries) with(ctx context.Context) *gorm.DB {
	return q.db.WithContext(ctx)
}

func (q *Queries) UpsertWallet(ctx context.Context, arg repository.UpsertWalletParams) (repository.Wallet, error) {
	now := utc(arg.Now)
	model := Wallet{ID: arg.ID, Tier: arg.Tier, CreatedAt: now, UpdatedAt: now}
	err := q.with(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"tier", "updated_at"}),
		}).
		Create(&model).Error
	if err != nil {
		return repository.Wallet{}, mapError(err)
	}
	return q.GetWallet(ctx, arg.ID)
}

func (q *Queries) EnsureWallet(ctx context.Context, arg repository.UpsertWalletParams) (repository.Wallet, error) {
	now := utc(arg.Now)
	model := Wallet{ID: arg.ID, Tier: arg.Tier, CreatedAt: now, UpdatedAt: now}
	if err := q.with(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&model).Error; err != nil {
		return repository.Wallet{}, mapError(err)
	}
	return q.GetWallet(ctx, arg.ID)
}

func (q *Queries) GetWallet(ctx context.Context, id string) (repository.Wallet, error) {
	var model Wallet
	if err := q.with(ctx).Where("id = ?", id).Take(&model).Error; err != nil {
		return repository.Wallet{}, mapError(err)
	}
	return toWallet(model), nil
}

func (q *Queries) LockWallet(ctx context.Context, id string) (repository.Wallet, error) {
	var model Wallet
	err := q.with(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		Take(&model).Error
	if err != nil {
		return repository.Wallet{}, mapError(err)
	}
	return toWallet(model), nil
}

func (q *Queries) ListWalletIDs(ctx context.Context, afterID string, limit int32) ([]string, error) {
	var ids []string
	err := q.with(ctx).
		Model(&Wallet{}).
		Where("id > ?", afterID).
		Order("id").
		Limit(int(limit)).
		Pluck("id", &ids).Error
	return ids, mapError(err)
}

func (q *Queries) InsertLedgerEntry(ctx context.Context, arg repository.InsertLedgerEntryParams) (repository.LedgerEntry, error) {
	created := utc(arg.CreatedAt)
	model := LedgerEntry{
		ID:              arg.ID,
		WalletID:        arg.WalletID,
		Kind:            arg.Kind,
		Amount:          arg.Amount,
		Currency:        arg.Currency,
		State:           arg.State,
		HoldUntil:       utcPtr(arg.HoldUntil),
		RelatedOrderID:  arg.RelatedOrderID,
		RelatedPayoutID: arg.RelatedPayoutID,
		IdempotencyKey:  arg.IdempotencyKey,
		CommissionRate:  arg.CommissionRate,
		CreatedAt:       created,
		UpdatedAt:       created,
	}
	if err := q.with(ctx).Create(&model).Error; err != nil {
		return repository.LedgerEntry{}, mapError(err)
	}
	return toLedgerEntry(model), nil
}

func (q *Queries) GetLedgerEntry(ctx context.Context, id string) (repository.LedgerEntry, error) {
	var model LedgerEntry
	if err := q.with(ctx).Where("id = ?", id).Take(&model).Error; err != nil {
		return repository.LedgerEntry{}, mapError(err)
	}
	return toLedgerEntry(model), nil
}

func (q *Queries) GetLedgerEntryByKey(ctx context.Context, idempotencyKey string) (repository.LedgerEntry, error) {
	var model LedgerEntry
	if err := q.with(ctx).Where("idempotency_key = ?", idempotencyKey).Take(&model).Error; err != nil {
		return repository.LedgerEntry{}, mapError(err)
	}
	return toLedgerEntry(model), nil
}

func (q *Queries) ListOrderEntries(ctx context.Context, orderID string) ([]repository.LedgerEntry, error) {
	var rows []LedgerEntry
	if err := q.with(ctx).Where("related_order_id = ?", orderID).Order("id").Find(&rows).Error; err != nil {
		return nil, mapError(err)
	}
	return toLedgerEntries(rows), nil
}

func (q *Queries) ListLedgerEntries(ctx context.Context, arg repository.ListLedgerEntriesParams) ([]repository.LedgerEntry, error) {
	query := q.with(ctx).Where("wallet_id = ?", arg.WalletID)
	if arg.State != "" {
		query = query.Where("state = ?", arg.State)
	}
	if arg.Kind != "" {
		query = query.Where("kind = ?", arg.Kind)
	}
	if arg.OrderID != "" {
		query = query.Where("related_order_id = ?", arg.OrderID)
	}
	if arg.BeforeID != "" {
		query = query.Where("id < ?", arg.BeforeID)
	}
	var rows []LedgerEntry
	if err := query.Order("id DESC").Limit(int(arg.Limit)).Find(&rows).Error; err != nil {
		return nil, mapError(err)
	}
	return toLedgerEntries(rows), nil
}

func (q *Queries) TransitionLedgerEntry(ctx context.Context, arg repository.TransitionLedgerEntryParams) (int64, error) {
	result := q.with(ctx).
		Model(&LedgerEntry{}).
		Where("id = ? AND state = ?", arg.ID, arg.FromState).
		Updates(map[string]any{"state": arg.ToState, "updated_at": utc(arg.Now)})
	if result.Error != nil {
		return 0, mapError(result.Error)
	}
	return result.RowsAffected, nil
}

func (q *Queries) ListDueSales(ctx context.Context, arg repository.ListDueSalesParams) ([]repository.DueSale, error) {
	var rows []struct {
		WalletID       string
		RelatedOrderID string
	}
	err := q.with(ctx).
		Model(&LedgerEntry{}).
		Select("wallet_id, related_order_id").
		Where("state = ? AND hold_until <= ? AND related_order_id <> ''", "pending", utc(arg.Now)).
		Group("wallet_id, related_order_id").
		Order("MIN(hold_until), related_order_id").
		Limit(int(arg.Limit)).
		Scan(&rows).Error
	if err != nil {
		return nil, mapError(err)
	}
	due := make([]repository.DueSale, 0, len(rows))
	for _, row := range rows {
		due = append(due, repository.DueSale{WalletID: row.WalletID, RelatedOrderID: row.RelatedOrderID})
	}
	return due, nil
}

func (q *Queries) SumWalletBalances(ctx context.Context, walletID string) (repository.WalletBalances, error) {
	var sums struct {
		Available int64
		Pending   int64
		Settled   int64
	}
	err := q.with(ctx).
		Model(&LedgerEntry{}).
		Select(`CAST(COALESCE(SUM(CASE WHEN state = 'available' THEN amount ELSE 0 END), 0) AS BIGINT) AS available,
			CAST(COALESCE(SUM(CASE WHEN state = 'pending' THEN amount ELSE 0 END), 0) AS BIGINT) AS pending,
			CAST(COALESCE(SUM(CASE WHEN state = 'settled' THEN amount ELSE 0 END), 0) AS BIGINT) AS settled`).
		Where("wallet_id = ?", walletID).
		Scan(&sums).Error
	if err != nil {
		return repository.WalletBalances{}, mapError(err)
	}
	var payouts struct {
		Reserved  int64
		Confirmed int64
	}
	err = q.with(ctx).
		Model(&PayoutRequest{}).
		Select(`CAST(COALESCE(SUM(CASE WHEN ` + activePayoutStatusFilter + ` THEN amount ELSE 0 END), 0) AS BIGINT) AS reserved,
			CAST(COALESCE(SUM(CASE WHEN status = 'confirmed' THEN amount ELSE 0 END), 0) AS BIGINT) AS confirmed`).
		Where("wallet_id = ?", walletID).
		Scan(&payouts).Error
	if err != nil {
		return repository.WalletBalances{}, mapError(err)
	}
	return repository.WalletBalances{
		Available: sums.Available,
		Pending:   sums.Pending,
		Settled:   sums.Settled,
		Reserved:  payouts.Reserved,
		Confirmed: payouts.Confirmed,
	}, nil
}

func (q *Queries) SumWalletKinds(ctx context.Context, walletID string) (repository.WalletKindSums, error) {
	var sums struct {
		SaleCredits      int64
		CommissionDebits int64
		Reversals        int64
		PayoutDebits     int64
	}
	err := q.with(ctx).
		Model(&LedgerEntry{}).
		Select(`CAST(COALESCE(SUM(CASE WHEN kind = 'sale_credit' THEN amount ELSE 0 END), 0) AS BIGINT) AS sale_credits,
			CAST(COALESCE(SUM(CASE WHEN kind = 'commission_debit' THEN amount ELSE 0 END), 0) AS BIGINT) AS commission_debits,
			CAST(COALESCE(SUM(CASE WHEN kind = 'reversal' THEN amount ELSE 0 END), 0) AS BIGINT) AS reversals,
			CAST(COALESCE(SUM(CASE WHEN kind = 'payout_debit' THEN amount ELSE 0 END), 0) AS BIGINT) AS payout_debits`).
		Where("wallet_id = ?", walletID).
		Scan(&sums).Error
	if err != nil {
		return repository.WalletKindSums{}, mapError(err)
	}
	return repository.WalletKindSums(sums), nil
}

func (q *Queries) NextReleaseAt(ctx context.Context, walletID string) (*time.Time, error) {
	var model LedgerEntry
	err := q.with(ctx).
		Where("wallet_id = ? AND state = ? AND hold_until IS NOT NULL", walletID, "pending").
		Order("hold_until").
		Limit(1).
		Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, mapError(err)
	}
	return utcPtr(model.HoldUntil), nil
}

func (q *Queries) InsertPayoutRequest(ctx context.Context, arg repository.InsertPayoutRequestParams) (repository.PayoutRequest, error) {
	requested := utc(arg.RequestedAt)
	model := PayoutRequest{
		ID:          arg.ID,
		WalletID:    arg.WalletID,
		Amount:      arg.Amount,
		Currency:    arg.Currency,
		Method:      arg.Method,
		Destination: arg.Destination,
		Status:      arg.Status,
		RequestKey:  arg.RequestKey,
		RequestedAt: requested,
		UpdatedAt:   requested,
	}
	if err := q.with(ctx).Create(&model).Error; err != nil {
		return repository.PayoutRequest{}, mapError(err)
	}
	return toPayoutRequest(model), nil
}

func (q *Queries) getPayout(ctx context.Context, lock bool, where string, args ...any) (repository.PayoutRequest, error) {
	query := q.with(ctx)
	if lock {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var model PayoutRequest
	if err := query.Where(where, args...).Take(&model).Error; err != nil {
		return repository.PayoutRequest{}, mapError(err)
	}
	return toPayoutRequest(model), nil
}

func (q *Queries) GetPayoutRequest(ctx context.Context, id string) (repository.PayoutRequest, error) {
	return q.getPayout(ctx, false, "id = ?", id)
}

func (q *Queries) GetPayoutRequestForUpdate(ctx context.Context, id string) (repository.PayoutRequest, error) {
	return q.getPayout(ctx, true, "id = ?", id)
}

func (q *Queries) GetPayoutRequestByKey(ctx context.Context, requestKey string) (repository.PayoutRequest, error) {
	return q.getPayout(ctx, false, "request_key = ?", requestKey)
}

func (q *Queries) GetPayoutRequestByReference(ctx context.Context, method, reference string) (repository.PayoutRequest, error) {
	return q.getPayout(ctx, false, "method = ? AND provider_reference = ?", method, reference)
}

func (q *Queries) ListPayoutRequests(ctx context.Context, arg repository.ListPayoutRequestsParams) ([]repository.PayoutRequest, error) {
	query := q.with(ctx).Where("wallet_id = ?", arg.WalletID)
	if arg.Status != "" {
		query = query.Where("status = ?", arg.Status)
	}
	var rows []PayoutRequest
	err := query.Order("requested_at DESC, id DESC").Limit(int(arg.Limit)).Offset(int(arg.Offset)).Find(&rows).Error
	if err != nil {
		return nil, mapError(err)
	}
	return toPayoutRequests(rows), nil
}

func (q *Queries) ClaimDispatchablePayouts(ctx context.Context, arg repository.ClaimDispatchablePayoutsParams) ([]repository.PayoutRequest, error) {
	var rows []PayoutRequest
	err := q.with(ctx).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("status = ? OR (status = ? AND provider_reference = '' AND attempts < ? AND last_attempt_at <= ?)",
			"reserved", "dispatched", arg.MaxAttempts, utc(arg.RetryBefore)).
		Order("requested_at, id").
		Limit(int(arg.Limit)).
		Find(&rows).Error
	if err != nil {
		return nil, mapError(err)
	}
	return toPayoutRequests(rows), nil
}

func (q *Queries) TransitionPayoutRequest(ctx context.Context, arg repository.TransitionPayoutRequestParams) (int64, error) {
	updates := map[string]any{
		"status":     arg.To,
		"updated_at": utc(arg.Now),
	}
	if arg.DispatchedAt != nil {
		updates["dispatched_at"] = gorm.Expr("COALESCE(dispatched_at, ?)", utc(*arg.DispatchedAt))
	}
	if arg.LastAttemptAt != nil {
		updates["last_attempt_at"] = utc(*arg.LastAttemptAt)
	}
	if arg.ResolvedAt != nil {
		updates["resolved_at"] = utc(*arg.ResolvedAt)
	}
	if arg.ReleasedAt != nil {
		updates["released_at"] = utc(*arg.ReleasedAt)
	}
	if arg.IncrementAttempts {
		updates["attempts"] = gorm.Expr("attempts + ?", 1)
	}
	if arg.FailureReason != "" {
		updates["failure_reason"] = arg.FailureReason
	}
	if arg.ProviderReference != "" {
		updates["provider_reference"] = arg.ProviderReference
	}
	result := q.with(ctx).
		Model(&PayoutRequest{}).
		Where("id = ? AND status IN ?", arg.ID, arg.From).
		Updates(updates)
	if result.Error != nil {
		return 0, mapError(result.Error)
	}
	return result.RowsAffected, nil
}

func (q *Queries) SetPayoutProviderReference(ctx context.Context, arg repository.SetPayoutProviderReferenceParams) (int64, error) {
	result := q.with(ctx).
		Model(&PayoutRequest{}).
		Where("id = ? AND status = ? AND provider_reference = ''", arg.ID, "dispatched").
		Updates(map[string]any{"provider_reference": arg.ProviderReference, "updated_at": utc(arg.Now)})
	if result.Error != nil {
		return 0, mapError(result.Error)
	}
	return result.RowsAffected, nil
}

func (q *Queries) ListTimedOutPayouts(ctx context.Context, arg repository.ListTimedOutPayoutsParams) ([]repository.PayoutRequest, error) {
	var rows []PayoutRequest
	err := q.with(ctx).
		Where("status = ? AND dispatched_at <= ?", "dispatched", utc(arg.DispatchedBefore)).
		Order("dispatched_at, id").
		Limit(int(arg.Limit)).
		Find(&rows).Error
	if err != nil {
		return nil, mapError(err)
	}
	return toPayoutRequests(rows), nil
}

func (q *Queries) CountPayoutsByStatus(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Status string
		N      int64
	}
	err := q.with(ctx).
		Model(&PayoutRequest{}).
		Select("status, COUNT(*) AS n").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, mapError(err)
	}
	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.N
	}
	return counts, nil
}

func (q *Queries) UpsertPayoutAccount(ctx context.Context, arg repository.UpsertPayoutAccountParams) (repository.PayoutAccount, error) {
	now := utc(arg.Now)
	model := PayoutAccount{WalletID: arg.WalletID, Method: arg.Method, Identifier: arg.Identifier, CreatedAt: now, UpdatedAt: now}
	err := q.with(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "wallet_id"}, {Name: "method"}},
			DoUpdates: clause.AssignmentColumns([]string{"identifier", "updated_at"}),
		}).
		Create(&model).Error
	if err != nil {
		return repository.PayoutAccount{}, mapError(err)
	}
	return q.GetPayoutAccount(ctx, arg.WalletID, arg.Method)
}

func (q *Queries) GetPayoutAccount(ctx context.Context, walletID, method string) (repository.PayoutAccount, error) {
	var model PayoutAccount
	if err := q.with(ctx).Where("wallet_id = ? AND method = ?", walletID, method).Take(&model).Error; err != nil {
		return repository.PayoutAccount{}, mapError(err)
	}
	return toPayoutAccount(model), nil
}

func (q *Queries) ListPayoutAccounts(ctx context.Context, walletID string) ([]repository.PayoutAccount, error) {
	var rows []PayoutAccount
	if err := q.with(ctx).Where("wallet_id = ?", walletID).Order("method").Find(&rows).Error; err != nil {
		return nil, mapError(err)
	}
	out := make([]repository.PayoutAccount, 0, len(rows))
	for _, row := range rows {
		out = append(out, toPayoutAccount(row))
	}
	return out, nil
}

func (q *Queries) InsertAuditLog(ctx context.Context, arg repository.InsertAuditLogParams) (repository.AuditLog, error) {
	model := AuditLog{
		EntityType: arg.EntityType,
		EntityID:   arg.EntityID,
		WalletID:   arg.WalletID,
		Cause:      arg.Cause,
		PrevState:  arg.PrevState,
		NextState:  arg.NextState,
		Metadata:   datatypesJSON(arg.Metadata),
		CreatedAt:  utc(arg.CreatedAt),
	}
	if err := q.with(ctx).Create(&model).Error; err != nil {
		return repository.AuditLog{}, mapError(err)
	}
	return toAuditLog(model), nil
}

func (q *Queries) ListAuditLogs(ctx context.Context, entityID string) ([]repository.AuditLog, error) {
	var rows []AuditLog
	if err := q.with(ctx).Where("entity_id = ?", entityID).Order("id").Find(&rows).Error; err != nil {
		return nil, mapError(err)
	}
	out := make([]repository.AuditLog, 0, len(rows))
	for _, row := range rows {
		out = append(out, toAuditLog(row))
	}
	return out, nil
}

func (q *Queries) GetIdempotencyKey(ctx context.Context, key string) (repository.IdempotencyKey, error) {
	var model IdempotencyKey
	if err := q.with(ctx).Where("idempotency_key = ?", key).Take(&model).Error; err != nil {
		return repository.IdempotencyKey{}, mapError(err)
	}
	return toIdempotencyKey(model), nil
}

func (q *Queries) ReserveIdempotencyKey(ctx context.Context, arg repository.ReserveIdempotencyKeyParams) (bool, error) {
	now := utc(arg.Now)
	model := IdempotencyKey{
		IdempotencyKey: arg.IdempotencyKey,
		RequestHash:    arg.RequestHash,
		Method:         arg.Method,
		Path:           arg.Path,
		InProgress:     true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	result := q.with(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&model)
	if result.Error != nil {
		return false, mapError(result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (q *Queries) FinalizeIdempotencyKey(ctx context.Context, arg repository.FinalizeIdempotencyKeyParams) (repository.IdempotencyKey, error) {
	result := q.with(ctx).
		Model(&IdempotencyKey{}).
		Where("idempotency_key = ? AND request_hash = ?", arg.IdempotencyKey, arg.RequestHash).
		Updates(map[string]any{
			"in_progress":     false,
			"response_status": arg.ResponseStatus,
			"response_body":   arg.ResponseBody,
			"content_type":    arg.ContentType,
			"updated_at":      utc(arg.Now),
		})
	if result.Error != nil {
		return repository.IdempotencyKey{}, mapError(result.Error)
	}
	if result.RowsAffected == 0 {
		return repository.IdempotencyKey{}, repository.ErrNotFound
	}
	return q.GetIdempotencyKey(ctx, arg.IdempotencyKey)
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return repository.ErrNotFound
	}
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %w", repository.ErrUniqueViolation, err)
	}
	if isSerializationFailure(err) {
		return fmt.Errorf("%w: %w", repository.ErrSerialization, err)
	}
	return err
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqliteConstraintUnique || code == sqliteConstraintPrimary
	}
	return false
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationCode, pgDeadlockCode, pgLockNotAvailableCode:
			return true
		}
		return false
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code() & 0xFF
		return code == sqliteBusyCode || code == sqliteLockedCode
	}
	return false
}

func utc(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := utc(*t)
	return &v
}

func datatypesJSON(raw []byte) datatypes.JSON {
	if len(raw) == 0 {
		return nil
	}
	return datatypes.JSON(raw)
}
