package store

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/jlevy/tbd/internal/attic"
	"github.com/jlevy/tbd/internal/codec"
	"github.com/jlevy/tbd/internal/idgen"
	"github.com/jlevy/tbd/internal/merge"
	"github.com/jlevy/tbd/internal/types"
)

// UpsertImported lands an externally constructed issue in the dataset.
// preferredShort, when available, becomes the display short code so
// foreign IDs survive the move (an import of "tbd-100" stays
// addressable as "tbd-100"). When the short code is already bound, the
// incoming issue is merged onto the existing one through the standard
// field-merge path, discarded values and all.
//
// Returns the stored issue and whether it was merged with an existing
// one.
func (s *Store) UpsertImported(issue *types.Issue, preferredShort string) (*types.Issue, bool, error) {
	if preferredShort != "" && s.mapping.Has(preferredShort) {
		internalID, err := s.Resolve(preferredShort)
		if err != nil {
			return nil, false, err
		}
		existing, err := codec.ReadIssueFile(s.issuePath(internalID))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				// Mapping entry from another replica whose issue file
				// has not synced yet; treat as a fresh write.
				issue.ID = internalID
				issue.DisplayID = idgen.FormatDisplayID(s.cfg.Prefix, preferredShort)
				return issue, false, s.finishImport(issue)
			}
			return nil, false, err
		}

		issue.ID = existing.ID
		issue.Kind = existing.Kind
		issue.DisplayID = existing.DisplayID
		res, err := merge.Issues(existing, issue, s.now().UTC())
		if err != nil {
			return nil, false, err
		}
		if err := attic.NewStore(s.dataDir).RecordAll(res.AtticEntries); err != nil {
			return nil, false, err
		}
		if err := res.Merged.Validate(); err != nil {
			return nil, false, err
		}
		if err := s.writeIssue(res.Merged); err != nil {
			return nil, false, err
		}
		return res.Merged, true, nil
	}

	short := preferredShort
	if short == "" {
		var err error
		short, err = s.mapping.GenerateUnboundShortID()
		if err != nil {
			return nil, false, err
		}
	}
	internalID := idgen.NewInternalID(idgen.DefaultTypePrefix)
	if err := s.mapping.Bind(short, internalID); err != nil {
		return nil, false, fmt.Errorf("cannot bind imported id %q: %w", short, err)
	}
	issue.ID = internalID
	issue.DisplayID = idgen.FormatDisplayID(s.cfg.Prefix, short)
	return issue, false, s.finishImport(issue)
}

func (s *Store) finishImport(issue *types.Issue) error {
	now := s.now().UTC().Truncate(time.Second)
	if issue.CreatedAt.IsZero() {
		issue.CreatedAt = now
	}
	if issue.UpdatedAt.IsZero() {
		issue.UpdatedAt = now
	}
	if issue.Version == 0 {
		issue.Version = 1
	}
	if err := issue.Validate(); err != nil {
		return err
	}
	return s.writeIssue(issue)
}
