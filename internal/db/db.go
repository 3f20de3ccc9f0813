package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/indocomsoft/acquity/internal/models"
)

// ErrNotFound is returned when a requested row does not exist or is not
// visible to the caller.
var ErrNotFound = errors.New("not found")

// DB wraps a PostgreSQL connection pool.
type DB struct {
	Pool *pgxpool.Pool
}

// NewDB initializes a new database connection pool.
func NewDB(ctx context.Context, connString string) (*DB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool.
func (db *DB) Close() {
	db.Pool.Close()
}

// CreateUser inserts a new user. New users cannot buy or sell until approved.
func (db *DB) CreateUser(ctx context.Context, email, fullName, passwordHash string) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		`INSERT INTO users (email, full_name, password_hash)
		 VALUES ($1, $2, $3)
		 RETURNING id, email, full_name, password_hash, can_buy, can_sell, created_at`,
		email, fullName, passwordHash).Scan(
		&user.ID, &user.Email, &user.FullName, &user.PasswordHash, &user.CanBuy, &user.CanSell, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// GetUserByEmail retrieves a user by email.
func (db *DB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		`SELECT id, email, full_name, password_hash, can_buy, can_sell, created_at
		 FROM users WHERE email = $1`,
		email).Scan(&user.ID, &user.Email, &user.FullName, &user.PasswordHash, &user.CanBuy, &user.CanSell, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetUserByID retrieves a user by id.
func (db *DB) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		`SELECT id, email, full_name, password_hash, can_buy, can_sell, created_at
		 FROM users WHERE id = $1`,
		id).Scan(&user.ID, &user.Email, &user.FullName, &user.PasswordHash, &user.CanBuy, &user.CanSell, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// SetUserCapabilities flips a user's buy/sell approval flags.
func (db *DB) SetUserCapabilities(ctx context.Context, id uuid.UUID, canBuy, canSell bool) error {
	tag, err := db.Pool.Exec(ctx,
		"UPDATE users SET can_buy = $2, can_sell = $3 WHERE id = $1", id, canBuy, canSell)
	if err != nil {
		return fmt.Errorf("failed to update user capabilities: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetUserEmails returns the emails for the given user ids.
func (db *DB) GetUserEmails(ctx context.Context, ids []uuid.UUID) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := db.Pool.Query(ctx, "SELECT email FROM users WHERE id = ANY($1)", ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get user emails: %w", err)
	}
	defer rows.Close()

	var emails []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, fmt.Errorf("failed to scan email: %w", err)
		}
		emails = append(emails, email)
	}
	return emails, rows.Err()
}

// GetAllUserEmails returns every registered user's email.
func (db *DB) GetAllUserEmails(ctx context.Context) ([]string, error) {
	rows, err := db.Pool.Query(ctx, "SELECT email FROM users")
	if err != nil {
		return nil, fmt.Errorf("failed to get user emails: %w", err)
	}
	defer rows.Close()

	var emails []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, fmt.Errorf("failed to scan email: %w", err)
		}
		emails = append(emails, email)
	}
	return emails, rows.Err()
}

// CreateSecurity inserts a new security.
func (db *DB) CreateSecurity(ctx context.Context, name string) (*models.Security, error) {
	sec := &models.Security{}
	err := db.Pool.QueryRow(ctx,
		"INSERT INTO securities (name) VALUES ($1) RETURNING id, name, market_price, created_at",
		name).Scan(&sec.ID, &sec.Name, &sec.MarketPrice, &sec.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create security: %w", err)
	}
	return sec, nil
}

// GetSecurities lists all securities.
func (db *DB) GetSecurities(ctx context.Context) ([]models.Security, error) {
	rows, err := db.Pool.Query(ctx, "SELECT id, name, market_price, created_at FROM securities ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to get securities: %w", err)
	}
	defer rows.Close()

	var secs []models.Security
	for rows.Next() {
		var sec models.Security
		if err := rows.Scan(&sec.ID, &sec.Name, &sec.MarketPrice, &sec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan security: %w", err)
		}
		secs = append(secs, sec)
	}
	return secs, rows.Err()
}

const orderColumns = "id, user_id, security_id, side, number_of_shares, price, round_id, created_at"

func scanOrder(row pgx.Row) (*models.Order, error) {
	order := &models.Order{}
	err := row.Scan(&order.ID, &order.UserID, &order.SecurityID, &order.Side,
		&order.NumberOfShares, &order.Price, &order.RoundID, &order.CreatedAt)
	if err != nil {
		return nil, err
	}
	return order, nil
}

func collectOrders(rows pgx.Rows) ([]models.Order, error) {
	defer rows.Close()
	var orders []models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, *order)
	}
	return orders, rows.Err()
}

// CreateOrder inserts a new pending order.
func (db *DB) CreateOrder(ctx context.Context, order *models.Order) (*models.Order, error) {
	if order.Side != models.SideBuy && order.Side != models.SideSell {
		return nil, fmt.Errorf("side must be 'buy' or 'sell'")
	}
	if order.Price < 0 {
		return nil, fmt.Errorf("price must not be negative")
	}
	if order.NumberOfShares <= 0 {
		return nil, fmt.Errorf("number of shares must be positive")
	}

	newOrder := &models.Order{}
	err := db.Pool.QueryRow(ctx,
		`INSERT INTO orders (user_id, security_id, side, number_of_shares, price)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+orderColumns,
		order.UserID, order.SecurityID, order.Side, order.NumberOfShares, order.Price).Scan(
		&newOrder.ID, &newOrder.UserID, &newOrder.SecurityID, &newOrder.Side,
		&newOrder.NumberOfShares, &newOrder.Price, &newOrder.RoundID, &newOrder.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	return newOrder, nil
}

// GetOrder retrieves an order owned by the given user.
func (db *DB) GetOrder(ctx context.Context, id, userID uuid.UUID) (*models.Order, error) {
	order, err := scanOrder(db.Pool.QueryRow(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE id = $1 AND user_id = $2", id, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return order, nil
}

// GetUserOrders retrieves a user's orders on one side.
func (db *DB) GetUserOrders(ctx context.Context, userID uuid.UUID, side string) ([]models.Order, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE user_id = $1 AND side = $2 ORDER BY created_at",
		userID, side)
	if err != nil {
		return nil, fmt.Errorf("failed to get user orders: %w", err)
	}
	return collectOrders(rows)
}

// CountCurrentOrders counts a user's orders on one side that are pending or in
// a round that has not concluded, for the per-round order limits.
func (db *DB) CountCurrentOrders(ctx context.Context, userID uuid.UUID, side string) (int, error) {
	var count int
	err := db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM orders o
		 LEFT JOIN rounds r ON o.round_id = r.id
		 WHERE o.user_id = $1 AND o.side = $2 AND (o.round_id IS NULL OR NOT r.is_concluded)`,
		userID, side).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count orders: %w", err)
	}
	return count, nil
}

// UpdateOrder edits an order's price and share count. Matched orders are
// immutable; the update silently fails with ErrNotFound for them.
func (db *DB) UpdateOrder(ctx context.Context, id, userID uuid.UUID, numberOfShares, price *float64) (*models.Order, error) {
	order, err := scanOrder(db.Pool.QueryRow(ctx,
		`UPDATE orders
		 SET number_of_shares = COALESCE($3, number_of_shares), price = COALESCE($4, price)
		 WHERE id = $1 AND user_id = $2
		   AND NOT EXISTS (SELECT 1 FROM matches m WHERE m.buy_order_id = $1 OR m.sell_order_id = $1)
		 RETURNING `+orderColumns,
		id, userID, numberOfShares, price))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to update order: %w", err)
	}
	return order, nil
}

// DeleteOrder removes an unmatched order owned by the user.
func (db *DB) DeleteOrder(ctx context.Context, id, userID uuid.UUID) error {
	tag, err := db.Pool.Exec(ctx,
		`DELETE FROM orders
		 WHERE id = $1 AND user_id = $2
		   AND NOT EXISTS (SELECT 1 FROM matches m WHERE m.buy_order_id = $1 OR m.sell_order_id = $1)`,
		id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetPendingOrders retrieves orders on one side not yet assigned to a round.
func (db *DB) GetPendingOrders(ctx context.Context, side string) ([]models.Order, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE side = $1 AND round_id IS NULL ORDER BY created_at",
		side)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending orders: %w", err)
	}
	return collectOrders(rows)
}

// GetOrdersForRound retrieves the orders of a round whose owners are approved
// for their side. Unapproved users' orders never reach the matching engine.
func (db *DB) GetOrdersForRound(ctx context.Context, roundID uuid.UUID) ([]models.Order, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT o.id, o.user_id, o.security_id, o.side, o.number_of_shares, o.price, o.round_id, o.created_at
		 FROM orders o
		 JOIN users u ON u.id = o.user_id
		 WHERE o.round_id = $1
		   AND ((o.side = 'buy' AND u.can_buy) OR (o.side = 'sell' AND u.can_sell))
		 ORDER BY o.created_at`,
		roundID)
	if err != nil {
		return nil, fmt.Errorf("failed to get round orders: %w", err)
	}
	return collectOrders(rows)
}

// AssignRound stamps a pending order with a round id. Assignment happens at
// most once per order.
func (db *DB) AssignRound(ctx context.Context, orderID, roundID uuid.UUID) error {
	tag, err := db.Pool.Exec(ctx,
		"UPDATE orders SET round_id = $2 WHERE id = $1 AND round_id IS NULL", orderID, roundID)
	if err != nil {
		return fmt.Errorf("failed to assign round: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order %s is not pending", orderID)
	}
	return nil
}

// CreateRound inserts a new round ending at the given time.
func (db *DB) CreateRound(ctx context.Context, endTime time.Time) (*models.Round, error) {
	round := &models.Round{}
	err := db.Pool.QueryRow(ctx,
		"INSERT INTO rounds (end_time) VALUES ($1) RETURNING id, end_time, is_concluded, created_at",
		endTime).Scan(&round.ID, &round.EndTime, &round.IsConcluded, &round.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create round: %w", err)
	}
	return round, nil
}

// GetRound retrieves a round by id.
func (db *DB) GetRound(ctx context.Context, id uuid.UUID) (*models.Round, error) {
	round := &models.Round{}
	err := db.Pool.QueryRow(ctx,
		"SELECT id, end_time, is_concluded, created_at FROM rounds WHERE id = $1",
		id).Scan(&round.ID, &round.EndTime, &round.IsConcluded, &round.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get round: %w", err)
	}
	return round, nil
}

// GetActiveRound retrieves the round whose end time is in the future and that
// has not been concluded, or nil when there is none.
func (db *DB) GetActiveRound(ctx context.Context) (*models.Round, error) {
	round := &models.Round{}
	err := db.Pool.QueryRow(ctx,
		"SELECT id, end_time, is_concluded, created_at FROM rounds WHERE end_time >= NOW() AND NOT is_concluded").Scan(
		&round.ID, &round.EndTime, &round.IsConcluded, &round.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get active round: %w", err)
	}
	return round, nil
}

// GetUnconcludedRounds retrieves every round not yet concluded, including
// expired ones whose close was missed.
func (db *DB) GetUnconcludedRounds(ctx context.Context) ([]models.Round, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT id, end_time, is_concluded, created_at FROM rounds WHERE NOT is_concluded ORDER BY end_time")
	if err != nil {
		return nil, fmt.Errorf("failed to get unconcluded rounds: %w", err)
	}
	defer rows.Close()

	var rounds []models.Round
	for rows.Next() {
		var round models.Round
		if err := rows.Scan(&round.ID, &round.EndTime, &round.IsConcluded, &round.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan round: %w", err)
		}
		rounds = append(rounds, round)
	}
	return rounds, rows.Err()
}

// GetRounds lists all rounds, newest first.
func (db *DB) GetRounds(ctx context.Context) ([]models.Round, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT id, end_time, is_concluded, created_at FROM rounds ORDER BY created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to get rounds: %w", err)
	}
	defer rows.Close()

	var rounds []models.Round
	for rows.Next() {
		var round models.Round
		if err := rows.Scan(&round.ID, &round.EndTime, &round.IsConcluded, &round.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan round: %w", err)
		}
		rounds = append(rounds, round)
	}
	return rounds, rows.Err()
}

// ConcludeRound seals a round. It returns false when the round was already
// concluded, making the operation idempotent.
func (db *DB) ConcludeRound(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := db.Pool.Exec(ctx,
		"UPDATE rounds SET is_concluded = TRUE WHERE id = $1 AND NOT is_concluded", id)
	if err != nil {
		return false, fmt.Errorf("failed to conclude round: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// BanPair bans two users from matching with each other in either role, by
// inserting both directed pairs.
func (db *DB) BanPair(ctx context.Context, userID, otherUserID uuid.UUID) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, pair := range [][2]uuid.UUID{{userID, otherUserID}, {otherUserID, userID}} {
		_, err := tx.Exec(ctx,
			"INSERT INTO banned_pairs (buyer_id, seller_id) VALUES ($1, $2) ON CONFLICT DO NOTHING",
			pair[0], pair[1])
		if err != nil {
			return fmt.Errorf("failed to insert banned pair: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetBannedPairs retrieves every banned (buyer, seller) pair.
func (db *DB) GetBannedPairs(ctx context.Context) ([]models.BannedPair, error) {
	rows, err := db.Pool.Query(ctx, "SELECT id, buyer_id, seller_id, created_at FROM banned_pairs")
	if err != nil {
		return nil, fmt.Errorf("failed to get banned pairs: %w", err)
	}
	defer rows.Close()

	var pairs []models.BannedPair
	for rows.Next() {
		var pair models.BannedPair
		if err := rows.Scan(&pair.ID, &pair.BuyerID, &pair.SellerID, &pair.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan banned pair: %w", err)
		}
		pairs = append(pairs, pair)
	}
	return pairs, rows.Err()
}

// CreateMatches inserts a round's match set in one transaction.
func (db *DB) CreateMatches(ctx context.Context, matches []models.Match) error {
	if len(matches) == 0 {
		return nil
	}

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, m := range matches {
		_, err := tx.Exec(ctx,
			"INSERT INTO matches (round_id, buy_order_id, sell_order_id) VALUES ($1, $2, $3)",
			m.RoundID, m.BuyOrderID, m.SellOrderID)
		if err != nil {
			return fmt.Errorf("failed to insert match: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetUserMatches retrieves the matches involving any of the user's orders.
func (db *DB) GetUserMatches(ctx context.Context, userID uuid.UUID) ([]models.Match, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT m.id, m.round_id, m.buy_order_id, m.sell_order_id, m.created_at
		 FROM matches m
		 JOIN orders o ON o.id = m.buy_order_id OR o.id = m.sell_order_id
		 WHERE o.user_id = $1
		 ORDER BY m.created_at DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user matches: %w", err)
	}
	defer rows.Close()

	var matches []models.Match
	for rows.Next() {
		var m models.Match
		if err := rows.Scan(&m.ID, &m.RoundID, &m.BuyOrderID, &m.SellOrderID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}
