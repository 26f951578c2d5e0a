package directory

import (
	"context"

	"github.com/dmitrijs2005/cosauth/internal/server/models"
)

const reconcilePageSize = MaxListLimit

// Report summarises a Reconcile run.
type Report struct {
	Scanned int `json:"scanned"`
	Added   int `json:"added"`
	Removed int `json:"removed"`
}

// Reconcile rebuilds the index from the records. Entries that do not point
// to a live record owning the key are dropped; identifiers of live records
// missing from the index are added unless another live record already holds
// them. The index is saved only when something changed.
func (s *Service) Reconcile(ctx context.Context) (*Report, error) {
	live := map[string]*models.User{}

	marker := ""
	for {
		ids, next, err := s.records.ListIDs(ctx, reconcilePageSize, marker)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			u, err := s.records.Get(ctx, id)
			if err != nil {
				if isNotFound(err) {
					continue
				}
				return nil, err
			}
			live[id] = u
		}
		if next == "" {
			break
		}
		marker = next
	}

	idx, version, err := s.index.Load(ctx)
	if err != nil {
		return nil, err
	}

	report := &Report{Scanned: len(live)}
	err = s.updateIndex(ctx, idx, version, func(idx Index) (bool, error) {
		report.Added, report.Removed = 0, 0

		for key, id := range idx {
			u, ok := live[id]
			if !ok {
				// The record may have been written after the scan.
				got, err := s.records.Get(ctx, id)
				switch {
				case err == nil:
					u = got
				case !isNotFound(err):
					return false, err
				}
			}
			if u == nil || !ownsKey(u, key) {
				delete(idx, key)
				report.Removed++
			}
		}
		for id, u := range live {
			for _, key := range []string{NormalizeKey(u.Username), NormalizeKey(u.Email)} {
				if owner := idx.Owner(key); owner == "" {
					idx.Set(key, id)
					report.Added++
				} else if owner != id {
					s.logger.Warn(ctx, "identifier claimed by two records", "key", key, "kept", owner, "skipped", id)
				}
			}
		}
		return report.Added+report.Removed > 0, nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "index reconciled", "scanned", report.Scanned, "added", report.Added, "removed", report.Removed)
	return report, nil
}
