// Package store persists carts, pending-order markers, the confirmation
// ledger and order snapshots in SQLite.
//
// Everything that must survive the client leaving for a payment gateway and
// coming back, possibly to a restarted process, lives here.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"

	"storefront-checkout/internal/cart"
	"storefront-checkout/internal/model"
	"storefront-checkout/internal/payment"
)

//go:embed schema.sql
var schemaSQL string

// ErrSnapshotNotFound is returned when no snapshot exists for an order.
var ErrSnapshotNotFound = errors.New("order snapshot not found")

// Store handles SQLite operations.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var (
	_ cart.Store          = (*Store)(nil)
	_ payment.MarkerStore = (*Store)(nil)
	_ payment.Ledger      = (*Store)(nil)
)

// Open opens (creating if needed) the database at path and applies the schema.
// path ":memory:" opens a private in-memory database.
func Open(path string) (*Store, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
		dsn = "file:" + path + "?_busy_timeout=5000&_journal_mode=WAL&_fk=1"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// A single connection serializes writers and keeps :memory: databases
	// from splitting across pool connections.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// === Carts ===

// LoadItems returns the lines of a cart in insertion order.
func (s *Store) LoadItems(ctx context.Context, cartID string) ([]cart.Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, name, options, unit_price, quantity
		FROM cart_items
		WHERE cart_id = ?
		ORDER BY position`, cartID)
	if err != nil {
		return nil, fmt.Errorf("querying cart: %w", err)
	}
	defer rows.Close()

	var items []cart.Item
	for rows.Next() {
		var item cart.Item
		var options string
		if err := rows.Scan(&item.ProductID, &item.Name, &options, &item.UnitPrice, &item.Quantity); err != nil {
			return nil, fmt.Errorf("scanning cart item: %w", err)
		}
		if err := json.Unmarshal([]byte(options), &item.VariantOptions); err != nil {
			return nil, fmt.Errorf("decoding options: %w", err)
		}
		if len(item.VariantOptions) == 0 {
			item.VariantOptions = nil
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// SaveItems replaces the lines of a cart.
func (s *Store) SaveItems(ctx context.Context, cartID string, items []cart.Item) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cart_items WHERE cart_id = ?`, cartID); err != nil {
		return fmt.Errorf("clearing cart: %w", err)
	}

	now := s.now().UnixMilli()
	for i, item := range items {
		options, err := json.Marshal(item.VariantOptions)
		if err != nil {
			return fmt.Errorf("encoding options: %w", err)
		}
		if item.VariantOptions == nil {
			options = []byte("{}")
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO cart_items (cart_id, line_key, position, product_id, name, options, unit_price, quantity, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			cartID, item.Key(), i, item.ProductID, item.Name, string(options), item.UnitPrice, item.Quantity, now)
		if err != nil {
			return fmt.Errorf("inserting cart item: %w", err)
		}
	}
	return tx.Commit()
}

// DeleteCart removes every line of a cart.
func (s *Store) DeleteCart(ctx context.Context, cartID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cart_items WHERE cart_id = ?`, cartID); err != nil {
		return fmt.Errorf("deleting cart: %w", err)
	}
	return nil
}

// === Pending order markers ===

// PutMarker inserts a marker. A taken buy order returns
// payment.ErrDuplicateBuyOrder.
func (s *Store) PutMarker(ctx context.Context, m payment.Marker) error {
	createdAt := m.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_orders (buy_order, order_id, order_key, gateway, amount, session_id, checkout_id, token, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.BuyOrder, m.OrderID, m.OrderKey, m.Gateway, m.Amount, m.SessionID, m.CheckoutID,
		nullString(m.Token), createdAt.UnixMilli())
	if isConstraintError(err) {
		return payment.ErrDuplicateBuyOrder
	}
	if err != nil {
		return fmt.Errorf("inserting marker: %w", err)
	}
	return nil
}

// MarkerByBuyOrder loads a marker by buy order.
func (s *Store) MarkerByBuyOrder(ctx context.Context, buyOrder string) (*payment.Marker, error) {
	return s.scanMarker(s.db.QueryRowContext(ctx, markerSelect+` WHERE buy_order = ?`, buyOrder))
}

// MarkerByToken loads a marker by gateway token.
func (s *Store) MarkerByToken(ctx context.Context, token string) (*payment.Marker, error) {
	return s.scanMarker(s.db.QueryRowContext(ctx, markerSelect+` WHERE token = ?`, token))
}

// SetMarkerToken records the gateway token on a marker.
func (s *Store) SetMarkerToken(ctx context.Context, buyOrder, token string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE pending_orders SET token = ? WHERE buy_order = ?`, nullString(token), buyOrder)
	if err != nil {
		return fmt.Errorf("updating marker token: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return payment.ErrMarkerNotFound
	}
	return nil
}

// MarkAuthorized flags a marker whose payment was authorized but whose order
// was not patched. DeleteMarkersBefore leaves flagged markers alone.
func (s *Store) MarkAuthorized(ctx context.Context, buyOrder string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pending_orders SET authorized_at = ? WHERE buy_order = ?`, s.now().UnixMilli(), buyOrder)
	if err != nil {
		return fmt.Errorf("flagging marker: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return payment.ErrMarkerNotFound
	}
	return nil
}

// DeleteMarker removes a marker. Deleting a missing marker is not an error.
func (s *Store) DeleteMarker(ctx context.Context, buyOrder string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pending_orders WHERE buy_order = ?`, buyOrder); err != nil {
		return fmt.Errorf("deleting marker: %w", err)
	}
	return nil
}

// DeleteMarkersBefore removes markers created before cutoff: attempts whose
// buyer never came back. Authorized markers are kept.
func (s *Store) DeleteMarkersBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM pending_orders WHERE created_at < ? AND authorized_at IS NULL`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("purging markers: %w", err)
	}
	return res.RowsAffected()
}

const markerSelect = `
	SELECT buy_order, order_id, order_key, gateway, amount, session_id, checkout_id, token, created_at, authorized_at
	FROM pending_orders`

func (s *Store) scanMarker(row *sql.Row) (*payment.Marker, error) {
	var m payment.Marker
	var token sql.NullString
	var createdAt int64
	var authorizedAt sql.NullInt64
	err := row.Scan(&m.BuyOrder, &m.OrderID, &m.OrderKey, &m.Gateway, &m.Amount,
		&m.SessionID, &m.CheckoutID, &token, &createdAt, &authorizedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, payment.ErrMarkerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning marker: %w", err)
	}
	m.Token = token.String
	m.CreatedAt = time.UnixMilli(createdAt)
	if authorizedAt.Valid {
		m.AuthorizedAt = time.UnixMilli(authorizedAt.Int64)
	}
	return &m, nil
}

// === Confirmation ledger ===

// ClaimConfirmation inserts the ledger row for token. Only the first caller
// gets claimed=true; INSERT OR IGNORE makes the race atomic in SQLite.
func (s *Store) ClaimConfirmation(ctx context.Context, buyOrder, token string) (*payment.Confirmation, bool, error) {
	now := s.now()
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO confirmations (token, buy_order, claimed_at)
		VALUES (?, ?, ?)`, token, buyOrder, now.UnixMilli())
	if err != nil {
		return nil, false, fmt.Errorf("claiming confirmation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("claiming confirmation: %w", err)
	}
	if n == 1 {
		return &payment.Confirmation{BuyOrder: buyOrder, Token: token, ClaimedAt: time.UnixMilli(now.UnixMilli())}, true, nil
	}

	existing, err := s.ConfirmationByToken(ctx, token)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// SettleConfirmation records the outcome of a claimed confirmation.
func (s *Store) SettleConfirmation(ctx context.Context, token string, result *payment.Result, failure string) error {
	var body sql.NullString
	if result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("encoding result: %w", err)
		}
		body = sql.NullString{String: string(data), Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE confirmations SET result = ?, failure = ?, settled_at = ?
		WHERE token = ?`, body, failure, s.now().UnixMilli(), token)
	if err != nil {
		return fmt.Errorf("settling confirmation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return payment.ErrConfirmationNotFound
	}
	return nil
}

// ConfirmationByToken loads the ledger row for token.
func (s *Store) ConfirmationByToken(ctx context.Context, token string) (*payment.Confirmation, error) {
	var c payment.Confirmation
	var body sql.NullString
	var claimedAt int64
	var settledAt sql.NullInt64

	err := s.db.QueryRowContext(ctx, `
		SELECT token, buy_order, result, failure, claimed_at, settled_at
		FROM confirmations WHERE token = ?`, token).
		Scan(&c.Token, &c.BuyOrder, &body, &c.Failure, &claimedAt, &settledAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, payment.ErrConfirmationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning confirmation: %w", err)
	}

	c.ClaimedAt = time.UnixMilli(claimedAt)
	if settledAt.Valid {
		c.SettledAt = time.UnixMilli(settledAt.Int64)
	}
	if body.Valid {
		var result payment.Result
		if err := json.Unmarshal([]byte(body.String), &result); err != nil {
			return nil, fmt.Errorf("decoding result: %w", err)
		}
		c.Result = &result
	}
	return &c, nil
}

// === Order snapshots ===

// PutSnapshot stores (or replaces) the display snapshot of an order.
func (s *Store) PutSnapshot(ctx context.Context, snap *model.OrderSnapshot) error {
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = s.now()
	}
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO order_snapshots (order_id, body, created_at) VALUES (?, ?, ?)
		ON CONFLICT(order_id) DO UPDATE SET body = excluded.body, created_at = excluded.created_at`,
		snap.OrderID, string(body), snap.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("inserting snapshot: %w", err)
	}
	return nil
}

// Snapshot loads the display snapshot of an order.
func (s *Store) Snapshot(ctx context.Context, orderID int64) (*model.OrderSnapshot, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM order_snapshots WHERE order_id = ?`, orderID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying snapshot: %w", err)
	}
	var snap model.OrderSnapshot
	if err := json.Unmarshal([]byte(body), &snap); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	return &snap, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint
}
