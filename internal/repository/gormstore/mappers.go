package gormstore

import "github.com/ayo6706/marketplace-wallet/internal/repository"

func toWallet(m Wallet) repository.Wallet {
	return repository.Wallet{
		ID:        m.ID,
		Tier:      m.Tier,
		CreatedAt: m.CreatedAt.UTC(),
		UpdatedAt: m.UpdatedAt.UTC(),
	}
}

func toLedgerEntry(m LedgerEntry) repository.LedgerEntry {
	return repository.LedgerEntry{
		ID:              m.ID,
		WalletID:        m.WalletID,
		Kind:            m.Kind,
		Amount:          m.Amount,
		Currency:        m.Currency,
		State:           m.State,
		HoldUntil:       utcPtr(m.HoldUntil),
		RelatedOrderID:  m.RelatedOrderID,
		RelatedPayoutID: m.RelatedPayoutID,
		IdempotencyKey:  m.IdempotencyKey,
		CommissionRate:  m.CommissionRate,
		CreatedAt:       m.CreatedAt.UTC(),
		UpdatedAt:       m.UpdatedAt.UTC(),
	}
}

func toLedgerEntries(rows []LedgerEntry) []repository.LedgerEntry {
	out := make([]repository.LedgerEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, toLedgerEntry(row))
	}
	return out
}

func toPayoutRequest(m PayoutRequest) repository.PayoutRequest {
	return repository.PayoutRequest{
		ID:                m.ID,
		WalletID:          m.WalletID,
		Amount:            m.Amount,
		Currency:          m.Currency,
		Method:            m.Method,
		Destination:       m.Destination,
		Status:            m.Status,
		RequestKey:        m.RequestKey,
		ProviderReference: m.ProviderReference,
		FailureReason:     m.FailureReason,
		Attempts:          m.Attempts,
		RequestedAt:       m.RequestedAt.UTC(),
		DispatchedAt:      utcPtr(m.DispatchedAt),
		LastAttemptAt:     utcPtr(m.LastAttemptAt),
		ResolvedAt:        utcPtr(m.ResolvedAt),
		ReleasedAt:        utcPtr(m.ReleasedAt),
		UpdatedAt:         m.UpdatedAt.UTC(),
	}
}

func toPayoutRequests(rows []PayoutRequest) []repository.PayoutRequest {
	out := make([]repository.PayoutRequest, 0, len(rows))
	for _, row := range rows {
		out = append(out, toPayoutRequest(row))
	}
	return out
}

func toPayoutAccount(m PayoutAccount) repository.PayoutAccount {
	return repository.PayoutAccount{
		WalletID:   m.WalletID,
		Method:     m.Method,
		Identifier: m.Identifier,
		CreatedAt:  m.CreatedAt.UTC(),
		UpdatedAt:  m.UpdatedAt.UTC(),
	}
}

func toAuditLog(m AuditLog) repository.AuditLog {
	return repository.AuditLog{
		ID:         m.ID,
		EntityType: m.EntityType,
		EntityID:   m.EntityID,
		WalletID:   m.WalletID,
		Cause:      m.Cause,
		PrevState:  m.PrevState,
		NextState:  m.NextState,
		Metadata:   []byte(m.Metadata),
		CreatedAt:  m.CreatedAt.UTC(),
	}
}

func toIdempotencyKey(m IdempotencyKey) repository.IdempotencyKey {
	return repository.IdempotencyKey{
		IdempotencyKey: m.IdempotencyKey,
		RequestHash:    m.RequestHash,
		Method:         m.Method,
		Path:           m.Path,
		InProgress:     m.InProgress,
		ResponseStatus: m.ResponseStatus,
		ResponseBody:   m.ResponseBody,
		ContentType:    m.ContentType,
		CreatedAt:      m.CreatedAt.UTC(),
		UpdatedAt:      m.UpdatedAt.UTC(),
	}
}
