package match

import (
	"github.com/google/uuid"

	"github.com/indocomsoft/acquity/internal/models"
	"github.com/indocomsoft/acquity/internal/set"
)

type banKey struct {
	buyer  uuid.UUID
	seller uuid.UUID
}

// BanFilter answers whether a directed (buyer, seller) pair may never match.
// The store inserts both directions when a user bans another, so the filter
// itself stays a plain lookup.
type BanFilter struct {
	pairs set.Set[banKey]
}

func NewBanFilter(pairs []models.BannedPair) *BanFilter {
	f := &BanFilter{pairs: set.New[banKey]()}
	for _, p := range pairs {
		f.pairs.Insert(banKey{buyer: p.BuyerID, seller: p.SellerID})
	}
	return f
}

// Banned reports whether buyer may not be matched with seller.
func (f *BanFilter) Banned(buyer, seller uuid.UUID) bool {
	return f.pairs.Include(banKey{buyer: buyer, seller: seller})
}
