// Package sqlitestore is the single-node durable store. It keeps the whole
// household on one embedded database and fans change events out through an
// in-process feed, since writer and readers share the process.
package sqlitestore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite" // pure Go sqlite driver
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"shoplist/internal/list"
	"shoplist/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store implements store.Store on an embedded SQLite database.
type Store struct {
	db   *sql.DB
	feed *store.Feed
}

var _ store.Store = (*Store)(nil)

// New opens (creating if needed) the database at dbPath and applies pending
// migrations before handing out the connection.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	if err := runMigrations(dbPath); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &Store{db: db, feed: store.NewFeed()}, nil
}

// DB exposes the underlying handle so sibling stores (metrics) can share it.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

func runMigrations(dbPath string) error {
	d, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create iofs driver: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", d, fmt.Sprintf("sqlite://%s", dbPath))
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
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
		"SELECT "+itemColumns+" FROM list_items WHERE list_id = ? ORDER BY position ASC", listID)
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
	item := list.Item{
		ID:         uuid.NewString(),
		Name:       draft.Name,
		Quantity:   draft.Quantity,
		Unit:       draft.Unit,
		Priority:   draft.Priority,
		Status:     draft.Status,
		AssigneeID: draft.AssigneeID,
	}

	// New items go to the front of the list.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO list_items (id, list_id, name, quantity, unit, priority, status, assignee_user_id, position)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?,
			(SELECT COALESCE(MIN(position), 0) - 1 FROM list_items WHERE list_id = ?))`,
		item.ID, listID, item.Name, item.Quantity, item.Unit, int(item.Priority), string(item.Status), item.AssigneeID, listID)
	if err != nil {
		return nil, fmt.Errorf("failed to insert item: %w", err)
	}

	s.feed.EmitInsert(listID, item)
	return &item, nil
}

func (s *Store) UpdateItem(ctx context.Context, listID, id string, patch list.ItemPatch) (*list.Item, error) {
	var sets []string
	var args []any
	appendSet := func(column string, value any) {
		sets = append(sets, column+" = ?")
		args = append(args, value)
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
	res, err := s.db.ExecContext(ctx,
		"UPDATE list_items SET "+strings.Join(sets, ", ")+" WHERE list_id = ? AND id = ?", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update item: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		return nil, err
	}

	updated, err := s.getItem(ctx, listID, id)
	if err != nil || updated == nil {
		return updated, err
	}
	s.feed.EmitUpdate(listID, *updated)
	return updated, nil
}

func (s *Store) getItem(ctx context.Context, listID, id string) (*list.Item, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+itemColumns+" FROM list_items WHERE list_id = ? AND id = ?", listID, id)
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
		"DELETE FROM list_items WHERE list_id = ? AND id = ?", listID, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	s.feed.EmitDelete(listID, id)
	return true, nil
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
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO products (id, name, alias_id, category) VALUES (?, ?, ?, ?)",
		p.ID, p.Name, p.AliasID, p.Category)
	if err != nil {
		return nil, fmt.Errorf("failed to create product: %w", err)
	}
	return &p, nil
}

func (s *Store) CreateAlias(ctx context.Context, a list.Alias) (*list.Alias, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO aliases (id, name) VALUES (?, ?)", a.ID, a.Name)
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
		WHERE m.user_id = ?
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
	row := s.db.QueryRowContext(ctx,
		"SELECT id, name, owner_id, access_code, created_at FROM lists WHERE id = ?", listID)
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

func (s *Store) CreateList(ctx context.Context, ownerID, name, accessCode string) (*list.Summary, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO lists (id, name, owner_id, access_code) VALUES (?, ?, ?, ?)",
		id, name, ownerID, accessCode)
	if err != nil {
		return nil, fmt.Errorf("failed to create list: %w", err)
	}
	return s.GetList(ctx, id)
}

func (s *Store) RenameList(ctx context.Context, listID, name string) error {
	_, err := s.db.ExecContext(ctx, "UPDATE lists SET name = ? WHERE id = ?", name, listID)
	if err != nil {
		return fmt.Errorf("failed to rename list: %w", err)
	}
	return nil
}

func (s *Store) SetAccessCode(ctx context.Context, listID, code string) error {
	_, err := s.db.ExecContext(ctx, "UPDATE lists SET access_code = ? WHERE id = ?", code, listID)
	if err != nil {
		return fmt.Errorf("failed to set access code: %w", err)
	}
	return nil
}

func (s *Store) FindListByAccessCode(ctx context.Context, code string) (*list.Summary, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, name, owner_id, access_code, created_at FROM lists WHERE access_code = ?", code)
	var summary list.Summary
	err := row.Scan(&summary.ID, &summary.Name, &summary.OwnerID, &summary.AccessCode, &summary.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up access code: %w", err)
	}
	return &summary, nil
}

func (s *Store) FetchMembers(ctx context.Context, listID string) ([]list.Member, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT user_id, name, avatar, role FROM list_members WHERE list_id = ?", listID)
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
		INSERT INTO list_members (list_id, user_id, role) VALUES (?, ?, ?)
		ON CONFLICT (list_id, user_id) DO UPDATE SET role = excluded.role`,
		listID, userID, string(role))
	if err != nil {
		return fmt.Errorf("failed to upsert member: %w", err)
	}
	s.feed.EmitMemberChange(listID)
	return nil
}

func (s *Store) RemoveMember(ctx context.Context, listID, userID string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM list_members WHERE list_id = ? AND user_id = ?", listID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}
	s.feed.EmitMemberChange(listID)
	return nil
}

func (s *Store) SubscribeMembers(listID string, h store.MemberHandlers) (func(), error) {
	return s.feed.SubscribeMembers(listID, h), nil
}
