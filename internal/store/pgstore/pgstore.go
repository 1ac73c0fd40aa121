// Package pgstore is the multi-node durable store. Queries go through
// database/sql on the pgx stdlib driver; change events ride Postgres
// LISTEN/NOTIFY so every node sees writes made by its peers.
package pgstore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib"

	"shoplist/internal/list"
	"shoplist/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	itemChannel   = "list_item_changes"
	memberChannel = "list_member_changes"
)

// Store implements store.Store on PostgreSQL.
type Store struct {
	db     *sql.DB
	feed   *store.Feed
	cancel context.CancelFunc
	done   chan struct{}
}

var _ store.Store = (*Store)(nil)

// New connects, applies pending migrations, and starts the notification
// listener. The listener holds its own connection; pooled connections cannot
// LISTEN reliably.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	if err := runMigrations(databaseURL); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(10)
	db.SetMaxOpenConns(20)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Store{db: db, feed: store.NewFeed(), done: make(chan struct{})}

	listenCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.listen(listenCtx, databaseURL)

	return s, nil
}

// DB exposes the underlying handle so sibling stores (metrics) can share it.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close stops the listener and closes the pool.
func (s *Store) Close() error {
	s.cancel()
	<-s.done
	return s.db.Close()
}

func runMigrations(databaseURL string) error {
	d, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create iofs driver: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", d, databaseURL)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// notification is the JSON payload the triggers publish.
type notification struct {
	Op     string  `json:"op"`
	ListID string  `json:"list_id"`
	Item   *dbItem `json:"item"`
}

type dbItem struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Quantity   int    `json:"quantity"`
	Unit       string `json:"unit"`
	Priority   int    `json:"priority"`
	Status     string `json:"status"`
	AssigneeID string `json:"assignee_user_id"`
}

func (d *dbItem) toItem() list.Item {
	return list.Item{
		ID:         d.ID,
		Name:       d.Name,
		Quantity:   d.Quantity,
		Unit:       d.Unit,
		Priority:   list.Priority(d.Priority),
		Status:     list.Status(d.Status),
		AssigneeID: d.AssigneeID,
	}
}

// listen holds a dedicated connection on the two notification channels and
// feeds decoded events into the fan-out. On connection loss it reconnects
// with a flat backoff until the context is cancelled.
func (s *Store) listen(ctx context.Context, databaseURL string) {
	defer close(s.done)

	for {
		if ctx.Err() != nil {
			return
		}
		if err := s.listenOnce(ctx, databaseURL); err != nil && ctx.Err() == nil {
			log.Printf("Notification listener lost connection: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(3 * time.Second):
		}
	}
}

func (s *Store) listenOnce(ctx context.Context, databaseURL string) error {
	conn, err := pgx.Connect(ctx, databaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect listener: %w", err)
	}
	defer conn.Close(context.Background())

	for _, channel := range []string{itemChannel, memberChannel} {
		if _, err := conn.Exec(ctx, "LISTEN "+channel); err != nil {
			return fmt.Errorf("failed to listen on %s: %w", channel, err)
		}
	}

	for {
		msg, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		s.dispatch(msg.Channel, msg.Payload)
	}
}

func (s *Store) dispatch(channel, payload string) {
	var n notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		log.Printf("Failed to decode notification payload: %v", err)
		return
	}

	if channel == memberChannel {
		s.feed.EmitMemberChange(n.ListID)
		return
	}

	if n.Item == nil {
		return
	}
	switch n.Op {
	case "INSERT":
		s.feed.EmitInsert(n.ListID, n.Item.toItem())
	case "UPDATE":
		s.feed.EmitUpdate(n.ListID, n.Item.toItem())
	case "DELETE":
		s.feed.EmitDelete(n.ListID, n.Item.ID)
	}
}

const itemColumns = "id, name, quantity, unit, priority, status, assignee_user_id"

func scanItem(row interface{ Scan(...any) error }) (list.Item, error) {
	var item list.Item
	var priority int
	err := row.Scan(&item.ID, &item.Name, &item.Quantity, &item.Unit, &priority, &item.Status, &item.AssigneeID)
	item.Priority = list.Priority(priority)
	return item, err
}

func (s *Store) FetchItems(ctx context.Context, listID string) ([]list.Item, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+itemColumns+" FROM list_items WHERE list_id = $1 ORDER BY position ASC", listID)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	var items []list.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *Store) InsertItem(ctx context.Context, listID string, draft list.ItemDraft) (*list.Item, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO list_items (list_id, name, quantity, unit, priority, status, assignee_user_id, position)
		VALUES ($1, $2, $3, $4, $5, $6, $7,
			(SELECT COALESCE(MIN(position), 0) - 1 FROM list_items WHERE list_id = $1))
		RETURNING `+itemColumns,
		listID, draft.Name, draft.Quantity, draft.Unit, int(draft.Priority), string(draft.Status), draft.AssigneeID)

	item, err := scanItem(row)
	if err != nil {
		return nil, fmt.Errorf("failed to insert item: %w", err)
	}
	return &item, nil
}

func (s *Store) UpdateItem(ctx context.Context, listID, id string, patch list.ItemPatch) (*list.Item, error) {
	var sets []string
	var args []any
	appendSet := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if patch.Name != nil {
		appendSet("name", *patch.Name)
	}
	if patch.Quantity != nil {
		appendSet("quantity", *patch.Quantity)
	}
	if patch.Unit != nil {
		appendSet("unit", *patch.Unit)
	}
	if patch.Priority != nil {
		appendSet("priority", int(*patch.Priority))
	}
	if patch.Status != nil {
		appendSet("status", string(*patch.Status))
	}
	if patch.AssigneeID != nil {
		appendSet("assignee_user_id", *patch.AssigneeID)
	}
	if len(sets) == 0 {
		return s.getItem(ctx, listID, id)
	}

	args = append(args, listID, id)
	query := fmt.Sprintf("UPDATE list_items SET %s WHERE list_id = $%d AND id = $%d RETURNING %s",
		strings.Join(sets, ", "), len(args)-1, len(args), itemColumns)

	item, err := scanItem(s.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update item: %w", err)
	}
	return &item, nil
}

func (s *Store) getItem(ctx context.Context, listID, id string) (*list.Item, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+itemColumns+" FROM list_items WHERE list_id = $1 AND id = $2", listID, id)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load item: %w", err)
	}
	return &item, nil
}

func (s *Store) DeleteItem(ctx context.Context, listID, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM list_items WHERE list_id = $1 AND id = $2", listID, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) SubscribeItems(listID string, h store.ItemHandlers) (func(), error) {
	return s.feed.SubscribeItems(listID, h), nil
}

func (s *Store) FetchProducts(ctx context.Context) ([]list.Product, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, alias_id, category FROM products ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	var products []list.Product
	for rows.Next() {
		var p list.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.AliasID, &p.Category); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (s *Store) FetchAliases(ctx context.Context) ([]list.Alias, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name FROM aliases ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to query aliases: %w", err)
	}
	defer rows.Close()

	var aliases []list.Alias
	for rows.Next() {
		var a list.Alias
		if err := rows.Scan(&a.ID, &a.Name); err != nil {
			return nil, fmt.Errorf("failed to scan alias: %w", err)
		}
		aliases = append(aliases, a)
	}
	return aliases, rows.Err()
}

func (s *Store) CreateProduct(ctx context.Context, p list.Product) (*list.Product, error) {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO products (id, name, alias_id, category) VALUES ($1, $2, $3, $4)",
		p.ID, p.Name, p.AliasID, p.Category)
	if err != nil {
		return nil, fmt.Errorf("failed to create product: %w", err)
	}
	return &p, nil
}

func (s *Store) CreateAlias(ctx context.Context, a list.Alias) (*list.Alias, error) {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO aliases (id, name) VALUES ($1, $2)", a.ID, a.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to create alias: %w", err)
	}
	return &a, nil
}

func (s *Store) FetchUserLists(ctx context.Context, userID string) ([]list.Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT l.id, l.name, l.owner_id, l.access_code, l.created_at, m.role
		FROM lists l
		JOIN list_members m ON m.list_id = l.id
		WHERE m.user_id = $1
		ORDER BY l.created_at ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query lists: %w", err)
	}
	defer rows.Close()

	var out []list.Summary
	for rows.Next() {
		var summary list.Summary
		var role string
		if err := rows.Scan(&summary.ID, &summary.Name, &summary.OwnerID, &summary.AccessCode, &summary.CreatedAt, &role); err != nil {
			return nil, fmt.Errorf("failed to scan list: %w", err)
		}
		summary.Role = list.Role(role)
		out = append(out, summary)
	}
	return out, rows.Err()
}

func (s *Store) GetList(ctx context.Context, listID string) (*list.Summary, error) {
	return s.scanSummary(s.db.QueryRowContext(ctx,
		"SELECT id, name, owner_id, access_code, created_at FROM lists WHERE id = $1", listID))
}

func (s *Store) CreateList(ctx context.Context, ownerID, name, accessCode string) (*list.Summary, error) {
	return s.scanSummary(s.db.QueryRowContext(ctx, `
		INSERT INTO lists (name, owner_id, access_code) VALUES ($1, $2, $3)
		RETURNING id, name, owner_id, access_code, created_at`,
		name, ownerID, accessCode))
}

func (s *Store) scanSummary(row *sql.Row) (*list.Summary, error) {
	var summary list.Summary
	err := row.Scan(&summary.ID, &summary.Name, &summary.OwnerID, &summary.AccessCode, &summary.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load list: %w", err)
	}
	return &summary, nil
}

func (s *Store) RenameList(ctx context.Context, listID, name string) error {
	_, err := s.db.ExecContext(ctx, "UPDATE lists SET name = $1 WHERE id = $2", name, listID)
	if err != nil {
		return fmt.Errorf("failed to rename list: %w", err)
	}
	return nil
}

func (s *Store) SetAccessCode(ctx context.Context, listID, code string) error {
	_, err := s.db.ExecContext(ctx, "UPDATE lists SET access_code = $1 WHERE id = $2", code, listID)
	if err != nil {
		return fmt.Errorf("failed to set access code: %w", err)
	}
	return nil
}

func (s *Store) FindListByAccessCode(ctx context.Context, code string) (*list.Summary, error) {
	return s.scanSummary(s.db.QueryRowContext(ctx,
		"SELECT id, name, owner_id, access_code, created_at FROM lists WHERE access_code = $1", code))
}

func (s *Store) FetchMembers(ctx context.Context, listID string) ([]list.Member, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT user_id, name, avatar, role FROM list_members WHERE list_id = $1", listID)
	if err != nil {
		return nil, fmt.Errorf("failed to query members: %w", err)
	}
	defer rows.Close()

	var members []list.Member
	for rows.Next() {
		var m list.Member
		var role string
		if err := rows.Scan(&m.UserID, &m.Name, &m.Avatar, &role); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		m.Role = list.Role(role)
		members = append(members, m)
	}
	return members, rows.Err()
}

func (s *Store) UpsertMember(ctx context.Context, listID, userID string, role list.Role) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO list_members (list_id, user_id, role) VALUES ($1, $2, $3)
		ON CONFLICT (list_id, user_id) DO UPDATE SET role = excluded.role`,
		listID, userID, string(role))
	if err != nil {
		return fmt.Errorf("failed to upsert member: %w", err)
	}
	return nil
}

func (s *Store) RemoveMember(ctx context.Context, listID, userID string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM list_members WHERE list_id = $1 AND user_id = $2", listID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}
	return nil
}

func (s *Store) SubscribeMembers(listID string, h store.MemberHandlers) (func(), error) {
	return s.feed.SubscribeMembers(listID, h), nil
}
