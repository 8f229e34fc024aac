package core

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/JonMunkholm/fisler/internal/logging"
)

// DeleteMethod records which delete path removed the records. The values
// are the ones reported to clients.
type DeleteMethod string

const (
	MethodProcedure DeleteMethod = "rpc_delete"
	MethodFallback  DeleteMethod = "normal_delete"
)

// DeleteResult reports what a bulk delete did. Missing lists requested
// identifiers that were not removed (already gone, or not matched).
type DeleteResult struct {
	Method    DeleteMethod
	Requested []string
	Deleted   []string
	Missing   []string
	// ProcedureErr is set when the fallback ran because the procedure failed.
	ProcedureErr error
}

// Partial reports whether some requested identifiers were not removed.
func (r DeleteResult) Partial() bool { return len(r.Missing) > 0 }

// DeleteCoordinator removes receipt records through the batch procedure,
// falling back to a direct delete.
type DeleteCoordinator struct {
	store Deleter
}

func NewDeleteCoordinator(store Deleter) *DeleteCoordinator {
	return &DeleteCoordinator{store: store}
}

// NormalizeIDs validates and canonicalizes identifiers, dropping
// duplicates while preserving order. It rejects empty input and any
// blank or malformed identifier.
func NormalizeIDs(ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, &ValidationError{Field: "ids", Message: "no ids provided"}
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, raw := range ids {
		s := strings.TrimSpace(raw)
		if s == "" {
			return nil, &ValidationError{Field: "ids", Value: raw, Message: "invalid fis id: blank"}
		}
		u, err := uuid.Parse(s)
		if err != nil {
			return nil, &ValidationError{Field: "ids", Value: raw, Message: "invalid fis id: " + s}
		}
		id := u.String()
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}

// Delete validates ids, then tries the procedure and, on any error, the
// direct delete. Zero rows removed is success. When both paths fail the
// errors are joined into one *DatabaseError.
func (c *DeleteCoordinator) Delete(ctx context.Context, ids []string) (DeleteResult, error) {
	norm, err := NormalizeIDs(ids)
	if err != nil {
		return DeleteResult{}, err
	}

	res := DeleteResult{Requested: norm}

	deleted, procErr := c.store.DeleteViaProcedure(ctx, norm)
	if procErr == nil {
		res.Method = MethodProcedure
		res.Deleted = deleted
	} else {
		logging.FromContext(ctx).Warn("batch delete procedure unavailable, using direct delete",
			"count", len(norm),
			"error", procErr,
		)
		deleted, directErr := c.store.DeleteDirect(ctx, norm)
		if directErr != nil {
			return DeleteResult{}, &DatabaseError{Op: "delete fisler", Err: errors.Join(procErr, directErr)}
		}
		res.Method = MethodFallback
		res.Deleted = deleted
		res.ProcedureErr = procErr
	}

	if res.Deleted == nil {
		res.Deleted = []string{}
	}
	res.Missing = missingIDs(norm, res.Deleted)
	return res, nil
}

func missingIDs(requested, deleted []string) []string {
	gone := make(map[string]struct{}, len(deleted))
	for _, id := range deleted {
		gone[strings.ToLower(id)] = struct{}{}
	}
	missing := []string{}
	for _, id := range requested {
		if _, ok := gone[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}
