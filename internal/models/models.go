package models

import (
	"time"

	"github.com/google/uuid"
)

// User represents a registered user. CanBuy/CanSell are granted by the
// committee after registration; only capable users' orders enter matching.
type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	FullName     string    `json:"full_name"`
	PasswordHash string    `json:"-"`
	CanBuy       bool      `json:"can_buy"`
	CanSell      bool      `json:"can_sell"`
	CreatedAt    time.Time `json:"created_at"`
}

// Order sides.
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Order is a bid or an ask for shares of a security. RoundID is nil while the
// order is pending; it is set exactly once, when the order joins a round.
type Order struct {
	ID             uuid.UUID  `json:"id"`
	UserID         uuid.UUID  `json:"user_id"`
	SecurityID     uuid.UUID  `json:"security_id"`
	Side           string     `json:"side"`
	NumberOfShares float64    `json:"number_of_shares"`
	Price          float64    `json:"price"`
	RoundID        *uuid.UUID `json:"round_id"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Pending reports whether the order has not been assigned to a round yet.
func (o Order) Pending() bool {
	return o.RoundID == nil
}

// Security is a tradable company stock. MarketPrice is informational only;
// the engine never uses it.
type Security struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	MarketPrice *float64  `json:"market_price"`
	CreatedAt   time.Time `json:"created_at"`
}

// Round is a fixed-length trading window. At most one round is active at any
// instant: EndTime in the future and IsConcluded false.
type Round struct {
	ID          uuid.UUID `json:"id"`
	EndTime     time.Time `json:"end_time"`
	IsConcluded bool      `json:"is_concluded"`
	CreatedAt   time.Time `json:"created_at"`
}

// BannedPair excludes a directed (buyer, seller) combination from matching.
// Banning a user inserts both directions.
type BannedPair struct {
	ID        uuid.UUID `json:"id"`
	BuyerID   uuid.UUID `json:"buyer_id"`
	SellerID  uuid.UUID `json:"seller_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Match pairs a buy order with a sell order of the same concluded round.
// The transacted share count and price are settled by the parties afterwards,
// so they are not recorded here.
type Match struct {
	ID          uuid.UUID `json:"id"`
	RoundID     uuid.UUID `json:"round_id"`
	BuyOrderID  uuid.UUID `json:"buy_order_id"`
	SellOrderID uuid.UUID `json:"sell_order_id"`
	CreatedAt   time.Time `json:"created_at"`
}
