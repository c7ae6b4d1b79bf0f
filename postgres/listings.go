package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"

	"github.com/toolshare/toolshare/api"
)

// CreateListing inserts the listing row, one image row per URL (the first
// flagged as main photo) and one lowercased tag row per tag, all in one
// transaction. The image URLs must already exist in the object store.
func (pg *Postgres) CreateListing(ctx context.Context, in api.Listing, imageURLs []string, tags []string) (api.Listing, error) {
	l := &listing{
		OwnerID:     in.OwnerID,
		Title:       in.Title,
		Category:    in.Category,
		Description: in.Description,
		Rate:        in.Rate,
	}

	err := pg.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(l).Exec(ctx); err != nil {
			return fmt.Errorf("insert listing: %w", err)
		}
		if err := insertImages(ctx, tx, l.ID, imageURLs); err != nil {
			return err
		}
		return insertTags(ctx, tx, l.ID, tags)
	})
	if err != nil {
		return api.Listing{}, err
	}
	return l.APIListing(), nil
}

// UpdateListing applies an incremental edit: scalar updates, new image and
// tag rows, removed image and tag rows, all in one transaction. It returns
// the URLs of the image rows it actually removed, read back inside the
// transaction; object store cleanup is the caller's concern and happens
// only after this commits.
func (pg *Postgres) UpdateListing(ctx context.Context, edit api.ListingEdit) ([]string, error) {
	var removedURLs []string
	err := pg.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*listing)(nil)).
			Set("title = ?", edit.Title).
			Set("category = ?", edit.Category).
			Set("description = ?", edit.Description).
			Set("rate = ?", edit.Rate).
			Set("updated_at = ?", time.Now()).
			Where("l.id = ?", edit.ListingID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("update listing: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("update listing: %w", api.ErrNotFound)
		}

		if err := insertImages(ctx, tx, edit.ListingID, edit.NewImageURLs); err != nil {
			return err
		}
		if err := insertTags(ctx, tx, edit.ListingID, edit.NewTags); err != nil {
			return err
		}

		if len(edit.RemoveTagIDs) > 0 {
			if _, err := tx.NewDelete().
				Model((*tag)(nil)).
				Where("t.id IN (?)", bun.In(edit.RemoveTagIDs)).
				Where("t.listing_id = ?", edit.ListingID).
				Exec(ctx); err != nil {
				return fmt.Errorf("delete tags: %w", err)
			}
		}
		if len(edit.RemoveImageIDs) > 0 {
			var removed []listingImage
			if err := tx.NewSelect().
				Model(&removed).
				Column("li.url").
				Where("li.id IN (?)", bun.In(edit.RemoveImageIDs)).
				Where("li.listing_id = ?", edit.ListingID).
				Scan(ctx); err != nil {
				return fmt.Errorf("select removed images: %w", err)
			}
			if _, err := tx.NewDelete().
				Model((*listingImage)(nil)).
				Where("li.id IN (?)", bun.In(edit.RemoveImageIDs)).
				Where("li.listing_id = ?", edit.ListingID).
				Exec(ctx); err != nil {
				return fmt.Errorf("delete listing images: %w", err)
			}
			for _, img := range removed {
				removedURLs = append(removedURLs, img.URL)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removedURLs, nil
}

// DeleteListing removes the listing row; images, tags, reservations,
// conversations and reviews go with it through ON DELETE CASCADE.
func (pg *Postgres) DeleteListing(ctx context.Context, listingID string) error {
	return pg.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewDelete().
			Model((*listing)(nil)).
			Where("l.id = ?", listingID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("delete listing: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("delete listing: %w", api.ErrNotFound)
		}
		return nil
	})
}

// GetListing returns a listing with its images, tags and owner projection.
func (pg *Postgres) GetListing(ctx context.Context, listingID string) (api.Listing, error) {
	var l listing
	err := pg.bun.NewSelect().
		Model(&l).
		Relation("Images").
		Relation("Tags").
		Relation("Owner").
		Where("l.id = ?", listingID).
		Scan(ctx)
	if err != nil {
		return api.Listing{}, fmt.Errorf("select listing: %w", notFound(err))
	}
	return l.APIListing(), nil
}

// ListUserListings returns all listings owned by the user, newest first.
func (pg *Postgres) ListUserListings(ctx context.Context, userID string) ([]api.Listing, error) {
	var ls []listing
	err := pg.bun.NewSelect().
		Model(&ls).
		Relation("Images").
		Relation("Tags").
		Where("l.owner_id = ?", userID).
		Order("l.created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("select listings: %w", err)
	}
	out := make([]api.Listing, len(ls))
	for i := range ls {
		out[i] = ls[i].APIListing()
	}
	return out, nil
}

// SearchListings filters the catalog, newest first. The keyword is
// lowercased and stripped of spaces and matched as a substring against the
// title and description treated the same way, so "screw driver" still
// finds "screwdriver". A non-empty availability window excludes listings
// with a non-cancelled reservation overlapping it.
func (pg *Postgres) SearchListings(ctx context.Context, sq api.ListingSearch) ([]api.Listing, error) {
	var ls []listing
	q := pg.bun.NewSelect().
		Model(&ls).
		Relation("Images").
		Relation("Tags").
		Relation("Owner").
		Order("l.created_at DESC")

	if sq.Keyword != "" {
		kw := "%" + strings.ReplaceAll(strings.ToLower(sq.Keyword), " ", "") + "%"
		q = q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.
				Where("REPLACE(LOWER(l.title), ' ', '') LIKE ?", kw).
				WhereOr("REPLACE(LOWER(l.description), ' ', '') LIKE ?", kw)
		})
	}
	if sq.Category != "" {
		q = q.Where("LOWER(l.category) = LOWER(?)", sq.Category)
	}
	if !sq.PostedAfter.IsZero() {
		q = q.Where("l.created_at >= ?", sq.PostedAfter)
	}
	if !sq.AvailableFrom.IsZero() && !sq.AvailableTo.IsZero() {
		booked := pg.bun.NewSelect().
			Model((*reservation)(nil)).
			Column("r.listing_id").
			Where("r.status IS DISTINCT FROM 'cancelled'").
			Where("r.start_date < ?", sq.AvailableTo).
			Where("r.end_date > ?", sq.AvailableFrom)
		q = q.Where("l.id NOT IN (?)", booked)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("search listings: %w", err)
	}
	out := make([]api.Listing, len(ls))
	for i := range ls {
		out[i] = ls[i].APIListing()
	}
	return out, nil
}

func insertImages(ctx context.Context, tx bun.Tx, listingID string, urls []string) error {
	if len(urls) == 0 {
		return nil
	}
	rows := make([]listingImage, len(urls))
	for i, url := range urls {
		rows[i] = listingImage{
			ListingID: listingID,
			URL:       url,
			MainPhoto: i == 0,
		}
	}
	if _, err := tx.NewInsert().Model(&rows).Exec(ctx); err != nil {
		return fmt.Errorf("insert listing images: %w", err)
	}
	return nil
}

func insertTags(ctx context.Context, tx bun.Tx, listingID string, tags []string) error {
	if len(tags) == 0 {
		return nil
	}
	rows := make([]tag, len(tags))
	for i, t := range tags {
		rows[i] = tag{
			ListingID: listingID,
			Tag:       strings.ToLower(t),
		}
	}
	if _, err := tx.NewInsert().Model(&rows).Exec(ctx); err != nil {
		return fmt.Errorf("insert tags: %w", err)
	}
	return nil
}
