package service

import (
	"context"
	"fmt"
	"time"

	"github.com/ayo6706/marketplace-wallet/internal/repository"
)

// AuditService writes immutable audit trail entries. Every ledger and payout
// transition records exactly one cause.
type AuditService struct {
	now func() time.Time
}

func NewAuditService(settings Settings) *AuditService {
	return &AuditService{now: settings.now}
}

// Write stores a single immutable audit record inside the caller's transaction.
func (s *AuditService) Write(ctx context.Context, qtx repository.Querier, entityType, entityID, walletID, cause, prevState, nextState string, metadata []byte) error {
	if _, err := qtx.InsertAuditLog(ctx, repository.InsertAuditLogParams{
		EntityType: entityType,
		EntityID:   entityID,
		WalletID:   walletID,
		Cause:      cause,
		PrevState:  prevState,
		NextState:  nextState,
		Metadata:   metadata,
		CreatedAt:  s.now(),
	}); err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}
