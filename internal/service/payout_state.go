package service

import (
	"sort"

	"github.com/ayo6706/marketplace-wallet/internal/domain"
)

// requested exists only while a request is validated; rows are persisted as reserved.
// A dispatched request may be dispatched again when a transient submit failure is retried.
var payoutTransitions = map[string]map[string]struct{}{
	domain.PayoutStatusRequested: {
		domain.PayoutStatusReserved: {},
	},
	domain.PayoutStatusReserved: {
		domain.PayoutStatusDispatched: {},
		domain.PayoutStatusFailed:     {},
	},
	domain.PayoutStatusDispatched: {
		domain.PayoutStatusDispatched: {},
		domain.PayoutStatusConfirmed:  {},
		domain.PayoutStatusFailed:     {},
	},
	domain.PayoutStatusConfirmed: {},
	domain.PayoutStatusFailed:    {},
}

func canTransitionPayout(current, next string) bool {
	nextStates, ok := payoutTransitions[current]
	if !ok {
		return false
	}
	_, ok = nextStates[next]
	return ok
}

// payoutSources lists the persisted statuses allowed to move to next, for use as a CAS guard.
func payoutSources(next string) []string {
	var out []string
	for current := range payoutTransitions {
		if current == domain.PayoutStatusRequested {
			continue
		}
		if canTransitionPayout(current, next) {
			out = append(out, current)
		}
	}
	sort.Strings(out)
	return out
}

func isTerminalPayout(status string) bool {
	return status == domain.PayoutStatusConfirmed || status == domain.PayoutStatusFailed
}
