package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ersonp/storyforge/internal/domain/entities"
	"github.com/ersonp/storyforge/internal/domain/errs"
)

const storyColumns = `id, title, genre, content_mode, auto_illustrate, context_depth, current_leaf_id, created_at, updated_at`

// CreateStory inserts the story and its root node in one transaction and
// points the story's leaf at the root.
func (r *Repository) CreateStory(ctx context.Context, story *entities.Story, root *entities.Node) error {
	if root == nil || root.ParentID != nil {
		return errs.Validation("a story must be created with a parentless root node")
	}

	now := timeNow()
	if story.ID == "" {
		story.ID = generateUUID()
	}
	if root.ID == "" {
		root.ID = generateUUID()
	}
	story.CreatedAt, story.UpdatedAt = now, now
	root.StoryID = story.ID
	root.NodeType = entities.NodeTypeRoot
	root.CreatedAt = now
	story.CurrentLeafID = &root.ID

	metadata, err := encodeMetadata(root.Metadata)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	_, err = tx.ExecContext(ctx, `
		INSERT INTO stories (`+storyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, NULL, ?, ?)
	`,
		story.ID, story.Title, story.Genre, string(story.ContentMode),
		story.AutoIllustrate, story.ContextDepth, story.CreatedAt, story.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting story: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO nodes (id, story_id, parent_id, content, summary, embedding, node_type, metadata, created_at)
		VALUES (?, ?, NULL, ?, ?, ?, ?, ?, ?)
	`,
		root.ID, root.StoryID, root.Content, nullString(root.Summary),
		encodeEmbedding(root.Embedding), string(root.NodeType), metadata, root.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting root node: %w", err)
	}

	_, err = tx.ExecContext(ctx, `UPDATE stories SET current_leaf_id = ? WHERE id = ?`, root.ID, story.ID)
	if err != nil {
		return fmt.Errorf("setting root leaf: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing story: %w", err)
	}
	return nil
}

// FindStory finds a story by ID.
func (r *Repository) FindStory(ctx context.Context, storyID string) (*entities.Story, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+storyColumns+` FROM stories WHERE id = ?`, storyID)

	story, err := scanStory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return story, nil
}

// ListStories lists stories, most recently updated first.
// A non-positive limit returns every story.
func (r *Repository) ListStories(ctx context.Context, limit, offset int) ([]*entities.Story, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+storyColumns+`
		FROM stories
		ORDER BY updated_at DESC, id ASC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("querying stories: %w", err)
	}
	defer rows.Close()

	stories := make([]*entities.Story, 0, 16)
	for rows.Next() {
		story, err := scanStory(rows)
		if err != nil {
			return nil, err
		}
		stories = append(stories, story)
	}
	return stories, rows.Err()
}

// UpdateStory persists story settings. The leaf pointer is not touched.
func (r *Repository) UpdateStory(ctx context.Context, story *entities.Story) error {
	story.UpdatedAt = timeNow()
	result, err := r.db.ExecContext(ctx, `
		UPDATE stories
		SET title = ?, genre = ?, content_mode = ?, auto_illustrate = ?, context_depth = ?, updated_at = ?
		WHERE id = ?
	`,
		story.Title, story.Genre, string(story.ContentMode), story.AutoIllustrate,
		story.ContextDepth, story.UpdatedAt, story.ID,
	)
	if err != nil {
		return fmt.Errorf("updating story: %w", err)
	}
	return requireAffected(result, "story", story.ID)
}

// SetLeaf moves the story's current leaf to nodeID.
func (r *Repository) SetLeaf(ctx context.Context, storyID, nodeID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var nodeStory string
	err = tx.QueryRowContext(ctx, `SELECT story_id FROM nodes WHERE id = ?`, nodeID).Scan(&nodeStory)
	if errors.Is(err, sql.ErrNoRows) {
		return errs.NotFound("node", nodeID)
	}
	if err != nil {
		return fmt.Errorf("looking up leaf node: %w", err)
	}
	if nodeStory != storyID {
		return errs.Validation("node %s belongs to story %s, not %s", nodeID, nodeStory, storyID)
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE stories SET current_leaf_id = ?, updated_at = ? WHERE id = ?`,
		nodeID, timeNow(), storyID,
	)
	if err != nil {
		return fmt.Errorf("updating leaf: %w", err)
	}
	if err := requireAffected(result, "story", storyID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing leaf: %w", err)
	}
	return nil
}

func scanStory(row rowScanner) (*entities.Story, error) {
	var (
		story       entities.Story
		contentMode string
		leaf        sql.NullString
	)
	err := row.Scan(
		&story.ID,
		&story.Title,
		&story.Genre,
		&contentMode,
		&story.AutoIllustrate,
		&story.ContextDepth,
		&leaf,
		&story.CreatedAt,
		&story.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scanning story: %w", err)
	}
	story.ContentMode = entities.ContentMode(contentMode)
	story.CurrentLeafID = stringPtr(leaf)
	return &story, nil
}

func requireAffected(result sql.Result, resource, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}
	if n == 0 {
		return errs.NotFound(resource, id)
	}
	return nil
}
