package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"cr-go/internal/cr"
)

// Grant is one stored permission row.
type Grant struct {
	Principal cr.Principal
	NodeID    cr.NodeID
	Action    cr.Action
	Allowed   bool
}

// HasPermission looks for a row for the requested channel first and falls
// back to the object's root node. No row at all means denied.
func (s *SQLiteDatabase) HasPermission(ctx context.Context, principal cr.Principal, obj *cr.Object, action cr.Action, channelID cr.NodeID) (bool, error) {
	candidates := []cr.NodeID{obj.NodeID}
	if channelID != 0 && channelID != obj.NodeID {
		candidates = []cr.NodeID{channelID, obj.NodeID}
	}

	for _, node := range candidates {
		var allowed bool
		err := s.q.QueryRowContext(ctx,
			"SELECT allowed FROM permissions WHERE principal = ? AND node_id = ? AND action = ?",
			string(principal), node, string(action)).Scan(&allowed)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("reading permission: %w", err)
		}
		return allowed, nil
	}
	return false, nil
}

// SetPermission stores an explicit allow or deny for principal on a node or channel.
func (s *SQLiteDatabase) SetPermission(ctx context.Context, principal cr.Principal, nodeID cr.NodeID, action cr.Action, allowed bool) error {
	if !action.Valid() {
		return fmt.Errorf("unknown action %q", action)
	}
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO permissions (principal, node_id, action, allowed) VALUES (?, ?, ?, ?)
		 ON CONFLICT (principal, node_id, action) DO UPDATE SET allowed = excluded.allowed`,
		string(principal), nodeID, string(action), allowed)
	if err != nil {
		return fmt.Errorf("setting permission: %w", err)
	}
	return nil
}

// ClearPermission removes the row so the node falls back to its root's setting.
func (s *SQLiteDatabase) ClearPermission(ctx context.Context, principal cr.Principal, nodeID cr.NodeID, action cr.Action) error {
	_, err := s.q.ExecContext(ctx,
		"DELETE FROM permissions WHERE principal = ? AND node_id = ? AND action = ?",
		string(principal), nodeID, string(action))
	if err != nil {
		return fmt.Errorf("clearing permission: %w", err)
	}
	return nil
}

// GrantAll allows every action for principal on nodeID.
func (s *SQLiteDatabase) GrantAll(ctx context.Context, principal cr.Principal, nodeID cr.NodeID) error {
	return s.withTx(ctx, func(tx *SQLiteDatabase) error {
		for _, a := range cr.AllActions() {
			if err := tx.SetPermission(ctx, principal, nodeID, a, true); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListPermissions returns the rows stored for principal, or for everybody
// when principal is empty.
func (s *SQLiteDatabase) ListPermissions(ctx context.Context, principal cr.Principal) ([]Grant, error) {
	query := "SELECT principal, node_id, action, allowed FROM permissions"
	var args []any
	if principal != "" {
		query += " WHERE principal = ?"
		args = append(args, string(principal))
	}
	query += " ORDER BY principal, node_id, action"

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing permissions: %w", err)
	}
	defer rows.Close()

	var out []Grant
	for rows.Next() {
		var (
			g           Grant
			who, action string
		)
		if err := rows.Scan(&who, &g.NodeID, &action, &g.Allowed); err != nil {
			return nil, fmt.Errorf("scanning permission: %w", err)
		}
		g.Principal, g.Action = cr.Principal(who), cr.Action(action)
		out = append(out, g)
	}
	return out, rows.Err()
}
