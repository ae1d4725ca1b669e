package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ersonp/storyforge/internal/domain/entities"
	"github.com/ersonp/storyforge/internal/domain/errs"
)

const nodeColumns = `id, story_id, parent_id, content, summary, embedding, node_type, metadata, created_at`

// AppendChild inserts node under node.ParentID. The parent must already exist
// in node.StoryID, which keeps the tree acyclic: a node can only ever point
// at something older than itself.
func (r *Repository) AppendChild(ctx context.Context, node *entities.Node) error {
	if node.ParentID == nil {
		return errs.Validation("child node requires a parent")
	}
	if node.ID == "" {
		node.ID = generateUUID()
	}
	if node.NodeType == "" {
		node.NodeType = entities.NodeTypeScene
	}
	node.CreatedAt = timeNow()

	metadata, err := encodeMetadata(node.Metadata)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var parentStory string
	err = tx.QueryRowContext(ctx, `SELECT story_id FROM nodes WHERE id = ?`, *node.ParentID).Scan(&parentStory)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && parentStory != node.StoryID) {
		return errs.NotFound("parent node", *node.ParentID)
	}
	if err != nil {
		return fmt.Errorf("looking up parent node: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO nodes (`+nodeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		node.ID, node.StoryID, *node.ParentID, node.Content, nullString(node.Summary),
		encodeEmbedding(node.Embedding), string(node.NodeType), metadata, node.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting node: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing node: %w", err)
	}
	return nil
}

// FindNode finds a node by ID.
func (r *Repository) FindNode(ctx context.Context, nodeID string) (*entities.Node, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE id = ?`, nodeID)

	node, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return node, nil
}

// FindNodes finds multiple nodes by their IDs in a single query, returned in
// the order of nodeIDs.
func (r *Repository) FindNodes(ctx context.Context, nodeIDs []string) ([]*entities.Node, error) {
	if len(nodeIDs) == 0 {
		return []*entities.Node{}, nil
	}

	marks, args := placeholders(nodeIDs)
	nodes, err := r.queryNodes(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE id IN (`+marks+`)`, args...)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*entities.Node, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}
	ordered := make([]*entities.Node, 0, len(nodes))
	for _, id := range nodeIDs {
		if n, ok := byID[id]; ok {
			ordered = append(ordered, n)
		}
	}
	return ordered, nil
}

// ListNodes lists every node of a story in creation order.
func (r *Repository) ListNodes(ctx context.Context, storyID string) ([]*entities.Node, error) {
	return r.queryNodes(ctx, `
		SELECT `+nodeColumns+`
		FROM nodes
		WHERE story_id = ?
		ORDER BY created_at ASC, rowid ASC
	`, storyID)
}

// Children lists the direct children of a node in creation order.
func (r *Repository) Children(ctx context.Context, nodeID string) ([]*entities.Node, error) {
	return r.queryNodes(ctx, `
		SELECT `+nodeColumns+`
		FROM nodes
		WHERE parent_id = ?
		ORDER BY created_at ASC, rowid ASC
	`, nodeID)
}

// UpdateNode persists content, summary, embedding and metadata.
func (r *Repository) UpdateNode(ctx context.Context, node *entities.Node) error {
	metadata, err := encodeMetadata(node.Metadata)
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE nodes
		SET content = ?, summary = ?, embedding = ?, metadata = ?
		WHERE id = ?
	`,
		node.Content, nullString(node.Summary), encodeEmbedding(node.Embedding), metadata, node.ID,
	)
	if err != nil {
		return fmt.Errorf("updating node: %w", err)
	}
	return requireAffected(result, "node", node.ID)
}

// queryNodes is a helper to execute node queries.
func (r *Repository) queryNodes(ctx context.Context, query string, args ...any) ([]*entities.Node, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying nodes: %w", err)
	}
	defer rows.Close()

	nodes := make([]*entities.Node, 0, 16)
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, rows.Err()
}

func scanNode(row rowScanner) (*entities.Node, error) {
	var (
		node      entities.Node
		parentID  sql.NullString
		summary   sql.NullString
		embedding []byte
		nodeType  string
		metadata  string
	)
	err := row.Scan(
		&node.ID,
		&node.StoryID,
		&parentID,
		&node.Content,
		&summary,
		&embedding,
		&nodeType,
		&metadata,
		&node.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scanning node: %w", err)
	}

	node.ParentID = stringPtr(parentID)
	node.Summary = stringPtr(summary)
	node.NodeType = entities.NodeType(nodeType)
	if node.Embedding, err = decodeEmbedding(embedding); err != nil {
		return nil, fmt.Errorf("decoding node %s embedding: %w", node.ID, err)
	}
	if node.Metadata, err = decodeMetadata(metadata); err != nil {
		return nil, fmt.Errorf("decoding node %s: %w", node.ID, err)
	}
	return &node, nil
}
