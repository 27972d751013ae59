package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/maheshalyana/letterflow/pkg/models"
)

// ReadSnapshot returns the persisted content of a document, or ErrNotFound
// when the document does not exist. It seeds the collaborative buffer when a
// session is created.
func (d *Database) ReadSnapshot(ctx context.Context, documentID string) (*models.Snapshot, error) {
	var snap models.Snapshot
	err := d.db.GetContext(ctx, &snap,
		`SELECT id, content, last_modified FROM documents WHERE id = $1`, documentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to read snapshot")
	}
	return &snap, nil
}

// WriteSnapshot persists the flattened buffer content. The row must already
// exist; snapshots never create documents.
func (d *Database) WriteSnapshot(ctx context.Context, documentID, content string, modified time.Time) error {
	result, err := d.db.ExecContext(ctx,
		`UPDATE documents SET content = $2, last_modified = $3 WHERE id = $1`,
		documentID, content, modified)
	if err != nil {
		return errors.Wrap(err, "failed to write snapshot")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check snapshot write")
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// DocumentRole resolves the role a user holds on a document: the owner gets
// RoleOwner, a share row grants its stored role, anything else is no access.
func (d *Database) DocumentRole(ctx context.Context, documentID, uid string) (models.Role, error) {
	var doc struct {
		OwnerUID string `db:"owner_uid"`
	}
	err := d.db.GetContext(ctx, &doc,
		`SELECT owner_uid FROM documents WHERE id = $1`, documentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", errors.Wrap(err, "failed to load document")
	}
	if doc.OwnerUID == uid {
		return models.RoleOwner, nil
	}

	var share struct {
		Role models.Role `db:"role"`
	}
	err = d.db.GetContext(ctx, &share,
		`SELECT role FROM document_shares WHERE document_id = $1 AND uid = $2`, documentID, uid)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", errors.Wrap(err, "failed to load document share")
	}
	if !share.Role.Valid() {
		return "", errors.Errorf("unknown role %q on document %s", share.Role, documentID)
	}
	return share.Role, nil
}
