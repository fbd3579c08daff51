package port

import "balance_reconciler/internal/domain/entity"

// TokenHasher derives the protocol token-data hash when an engine payload omits it.
// Implementations may fail; callers treat a failure as "no hash".
type TokenHasher interface {
	TokenDataHash(data entity.TokenData) (string, error)
}
