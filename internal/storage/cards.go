package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/lotas/cognito/internal/datauri"
	"github.com/lotas/cognito/internal/types"
)

var (
	// ErrNotFound is returned by Replace when the card does not exist.
	ErrNotFound = errors.New("card not found")
	// ErrStale is returned by Replace when the card changed since it was read.
	ErrStale = errors.New("card was modified concurrently")
	// ErrEncoding is returned by Insert for content that cannot be stored.
	ErrEncoding = errors.New("card content is not encodable")
)

const cardColumns = "id, type, content, source_url, created_at, summary, tags, provenance_status, provenance_findings, version"

// CardStore is the persistent table of research cards.
// Each method is a single atomic statement; there are no multi-card transactions.
type CardStore struct {
	db *sql.DB
}

// NewCardStore wraps an opened database.
func NewCardStore(db *sql.DB) *CardStore {
	return &CardStore{db: db}
}

// DB returns the underlying handle.
func (s *CardStore) DB() *sql.DB {
	return s.db
}

func validate(c types.Card) error {
	if !c.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrEncoding, c.Type)
	}
	switch c.Type {
	case types.CardImage:
		if !datauri.IsImage(c.Content) {
			return fmt.Errorf("%w: image content must be an image data URI", ErrEncoding)
		}
	case types.CardText:
		if !utf8.ValidString(c.Content) {
			return fmt.Errorf("%w: text content is not valid UTF-8", ErrEncoding)
		}
	}
	return nil
}

func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("%w: tags: %v", ErrEncoding, err)
	}
	return string(b), nil
}

func provenanceArgs(p *types.ProvenanceResult) (any, string) {
	if p == nil {
		return nil, ""
	}
	return string(p.Status), p.Findings
}

// Insert stores a fully built card and returns its assigned id.
// The card's ID and Version fields are ignored.
func (s *CardStore) Insert(ctx context.Context, c types.Card) (int64, error) {
	if err := validate(c); err != nil {
		return 0, err
	}
	tags, err := encodeTags(c.Tags)
	if err != nil {
		return 0, err
	}
	status, findings := provenanceArgs(c.Provenance)

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO research_cards (type, content, source_url, created_at, summary, tags, provenance_status, provenance_findings)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(c.Type), c.Content, c.SourceURL, c.CreatedAt, c.Summary, tags, status, findings,
	)
	if err != nil {
		return 0, fmt.Errorf("insert card: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get card id: %w", err)
	}
	return id, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCard(row rowScanner) (types.Card, error) {
	var (
		c        types.Card
		typ      string
		tags     string
		status   sql.NullString
		findings string
	)
	if err := row.Scan(&c.ID, &typ, &c.Content, &c.SourceURL, &c.CreatedAt, &c.Summary, &tags, &status, &findings, &c.Version); err != nil {
		return c, err
	}
	c.Type = types.CardType(typ)
	if err := json.Unmarshal([]byte(tags), &c.Tags); err != nil {
		return c, fmt.Errorf("decode tags of card %d: %w", c.ID, err)
	}
	if c.Tags == nil {
		c.Tags = []string{}
	}
	if status.Valid {
		c.Provenance = &types.ProvenanceResult{
			Status:   types.ProvenanceStatus(status.String),
			Findings: findings,
		}
	}
	return c, nil
}

// List returns all cards ordered by creation time, ties by insertion order.
func (s *CardStore) List(ctx context.Context) ([]types.Card, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+cardColumns+" FROM research_cards ORDER BY created_at ASC, id ASC",
	)
	if err != nil {
		return nil, fmt.Errorf("query cards: %w", err)
	}
	defer rows.Close()

	result := []types.Card{}
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("scan card: %w", err)
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cards: %w", err)
	}
	return result, nil
}

// Get loads one card by id. Returns nil, nil if it does not exist.
func (s *CardStore) Get(ctx context.Context, id int64) (*types.Card, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+cardColumns+" FROM research_cards WHERE id = ?", id,
	)
	c, err := scanCard(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query card %d: %w", id, err)
	}
	return &c, nil
}

// Replace overwrites the whole stored record with c. The write only applies
// if the stored version still equals c.Version; on success c.Version is bumped.
// Returns ErrNotFound if the id is unknown and ErrStale if another replace won.
func (s *CardStore) Replace(ctx context.Context, c *types.Card) error {
	if err := validate(*c); err != nil {
		return err
	}
	tags, err := encodeTags(c.Tags)
	if err != nil {
		return err
	}
	status, findings := provenanceArgs(c.Provenance)

	res, err := s.db.ExecContext(ctx,
		`UPDATE research_cards
		 SET type = ?, content = ?, source_url = ?, created_at = ?, summary = ?, tags = ?,
		     provenance_status = ?, provenance_findings = ?, version = version + 1
		 WHERE id = ? AND version = ?`,
		string(c.Type), c.Content, c.SourceURL, c.CreatedAt, c.Summary, tags, status, findings,
		c.ID, c.Version,
	)
	if err != nil {
		return fmt.Errorf("replace card %d: %w", c.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if affected == 0 {
		var exists int
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM research_cards WHERE id = ?", c.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check card %d: %w", c.ID, err)
		}
		if exists == 0 {
			return fmt.Errorf("replace card %d: %w", c.ID, ErrNotFound)
		}
		return fmt.Errorf("replace card %d at version %d: %w", c.ID, c.Version, ErrStale)
	}
	c.Version++
	return nil
}

// Delete removes a card. Deleting an unknown id is a no-op.
func (s *CardStore) Delete(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM research_cards WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete card %d: %w", id, err)
	}
	return nil
}

// Clear removes every card. Ids keep increasing afterwards.
func (s *CardStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM research_cards"); err != nil {
		return fmt.Errorf("clear cards: %w", err)
	}
	return nil
}

// Count returns the number of stored cards.
func (s *CardStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM research_cards").Scan(&n); err != nil {
		return 0, fmt.Errorf("count cards: %w", err)
	}
	return n, nil
}
