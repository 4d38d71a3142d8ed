package service

import (
	"encoding/json"
	"fmt"

	"github.com/ayo6706/marketplace-wallet/internal/models"
	"github.com/ayo6706/marketplace-wallet/internal/repository"
)

func requireExactlyOne(rows int64, operation string) error {
	if rows != 1 {
		return fmt.Errorf("%s affected %d rows", operation, rows)
	}
	return nil
}

func marshalReasonMetadata(reason string) ([]byte, error) {
	return json.Marshal(map[string]string{
		"reason": reason,
	})
}

func clampLimit(limit, def, max int32) int32 {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}

func toLedgerEntryModel(e repository.LedgerEntry) models.LedgerEntry {
	return models.LedgerEntry{
		ID:              e.ID,
		WalletID:        e.WalletID,
		Kind:            e.Kind,
		Amount:          e.Amount,
		Currency:        e.Currency,
		State:           e.State,
		HoldUntil:       e.HoldUntil,
		RelatedOrderID:  e.RelatedOrderID,
		RelatedPayoutID: e.RelatedPayoutID,
		CommissionRate:  e.CommissionRate,
		CreatedAt:       e.CreatedAt,
	}
}

func toPayoutModel(p repository.PayoutRequest) *models.PayoutRequest {
	return &models.PayoutRequest{
		ID:                p.ID,
		WalletID:          p.WalletID,
		Amount:            p.Amount,
		Currency:          p.Currency,
		Method:            p.Method,
		Status:            p.Status,
		ProviderReference: p.ProviderReference,
		FailureReason:     p.FailureReason,
		Attempts:          p.Attempts,
		RequestedAt:       p.RequestedAt,
		DispatchedAt:      p.DispatchedAt,
		ResolvedAt:        p.ResolvedAt,
	}
}

func toPayoutAccountModel(a repository.PayoutAccount) models.PayoutAccount {
	return models.PayoutAccount{
		WalletID:   a.WalletID,
		Method:     a.Method,
		Identifier: a.Identifier,
		UpdatedAt:  a.UpdatedAt,
	}
}
