package ledger

import (
	"context"
	"fmt"
)

// ChainStatus is the result of walking one user's ledger chain.
type ChainStatus struct {
	Kind     Kind   `json:"kind"`
	UserID   int64  `json:"userId,string"`
	Entries  int    `json:"entries"`
	Total    int64  `json:"total"`
	Valid    bool   `json:"valid"`
	BrokenAt *int64 `json:"brokenAt,omitempty,string"`
	Reason   string `json:"reason,omitempty"`
}

func (s *ChainStatus) broken(e *LedgerEntry, reason string) *ChainStatus {
	id := e.ID
	s.Valid = false
	s.BrokenAt = &id
	s.Reason = reason
	return s
}

// VerifyChain recomputes every hash of a user's ledger and checks the links
// and running totals between consecutive entries.
func (e *Engine) VerifyChain(ctx context.Context, kind Kind, userID int64) (*ChainStatus, error) {
	status := &ChainStatus{Kind: kind, UserID: userID, Valid: true}

	var entries []*LedgerEntry
	if err := e.db.WithContext(ctx).Table(kind.Table()).
		Where("user_id = ?", userID).
		Order("sequence ASC").
		Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("read %s chain: %w", kind, err)
	}

	prevHash := genesisHash
	var (
		prevSeq   int64
		prevAfter int64
	)
	for _, entry := range entries {
		switch {
		case entry.Sequence != prevSeq+1:
			return status.broken(entry, "sequence gap"), nil
		case entry.PreviousHash != prevHash:
			return status.broken(entry, "previous hash mismatch"), nil
		case entry.GenerateHash() != entry.Hash:
			return status.broken(entry, "hash mismatch"), nil
		case (prevSeq > 0 && entry.Before != prevAfter) || entry.After != entry.Before+entry.Delta:
			return status.broken(entry, "running total mismatch"), nil
		}

		prevSeq = entry.Sequence
		prevHash = entry.Hash
		prevAfter = entry.After
		status.Entries++
		status.Total = entry.After
	}
	return status, nil
}
