// Package collab declares the contracts this core consumes from the
// surrounding product: user directory lookups, notification
// preferences, and board access grants. The core never reads ambient
// state; every call carries the tenant explicitly.
package collab

import (
	"context"

	"github.com/nhle/cardflow/internal/model"
)

// Directory answers watcher, preference, and board-shape questions on
// behalf of the surrounding product.
type Directory interface {
	// BoardWatchers returns the user ids watching a board.
	BoardWatchers(ctx context.Context, tenantID, boardID string) ([]string, error)

	// CardWatchers returns the user ids watching a card.
	CardWatchers(ctx context.Context, tenantID, cardID string) ([]string, error)

	// RecipientPrefs returns a user's notification delivery settings.
	RecipientPrefs(ctx context.Context, tenantID, userID string) (model.RecipientPrefs, error)

	// ColumnNamed returns the id of the column with the given name on
	// a board, or "" if the board has no such column.
	ColumnNamed(ctx context.Context, tenantID, boardID, name string) (string, error)

	// ColumnName returns the display name of a column.
	ColumnName(ctx context.Context, tenantID, columnID string) (string, error)

	// BoardName returns the display name of a board.
	BoardName(ctx context.Context, tenantID, boardID string) (string, error)
}

// AccessGranter grants users access to a board. Moving a card to a
// new board grants its assignees access there.
type AccessGranter interface {
	GrantBoardAccess(ctx context.Context, tenantID, boardID string, userIDs []string) error
}
