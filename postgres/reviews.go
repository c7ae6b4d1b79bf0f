package postgres

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/toolshare/toolshare/api"
)

// CreateReview inserts the review and refreshes the subject's denormalized
// average rating in the same transaction. The recompute re-scans the full
// review set, so the stored average always matches the rows that produced
// it.
func (pg *Postgres) CreateReview(ctx context.Context, in api.Review) (api.Review, error) {
	rv := &review{
		SubjectType: in.SubjectType,
		SubjectID:   in.SubjectID,
		ReviewerID:  in.ReviewerID,
		Rating:      in.Rating,
		Comment:     in.Comment,
	}

	err := pg.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(rv).Exec(ctx); err != nil {
			return fmt.Errorf("insert review: %w", err)
		}

		var avg float64
		err := tx.NewSelect().
			Model((*review)(nil)).
			ColumnExpr("COALESCE(AVG(rv.rating), 0)").
			Where("rv.subject_type = ?", in.SubjectType).
			Where("rv.subject_id = ?", in.SubjectID).
			Scan(ctx, &avg)
		if err != nil {
			return fmt.Errorf("average rating: %w", err)
		}

		var updated int64
		switch in.SubjectType {
		case api.SubjectListing:
			r, err := tx.NewUpdate().
				Model((*listing)(nil)).
				Set("rating = ?", avg).
				Where("l.id = ?", in.SubjectID).
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("update listing rating: %w", err)
			}
			updated, _ = r.RowsAffected()
		case api.SubjectUser:
			r, err := tx.NewUpdate().
				Model((*user)(nil)).
				Set("rating = ?", avg).
				Where("u.id = ?", in.SubjectID).
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("update user rating: %w", err)
			}
			updated, _ = r.RowsAffected()
		default:
			return fmt.Errorf("unknown review subject type %q", in.SubjectType)
		}
		if updated == 0 {
			return fmt.Errorf("update rating: %w", api.ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return api.Review{}, err
	}
	return rv.APIReview(), nil
}

// ListReviews returns all reviews for a subject, newest first.
func (pg *Postgres) ListReviews(ctx context.Context, subjectType, subjectID string) ([]api.Review, error) {
	var rvs []review
	err := pg.bun.NewSelect().
		Model(&rvs).
		Where("rv.subject_type = ?", subjectType).
		Where("rv.subject_id = ?", subjectID).
		Order("rv.created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("select reviews: %w", err)
	}
	out := make([]api.Review, len(rvs))
	for i := range rvs {
		out[i] = rvs[i].APIReview()
	}
	return out, nil
}
