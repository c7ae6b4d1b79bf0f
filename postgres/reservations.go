package postgres

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/toolshare/toolshare/api"
)

// CreateReservation books a listing for a date range. The listing read, the
// overlap check and the insert share one transaction, so two concurrent
// bookings for overlapping ranges cannot both commit.
func (pg *Postgres) CreateReservation(ctx context.Context, in api.Reservation) (api.Reservation, error) {
	r := &reservation{
		ListingID: in.ListingID,
		UserID:    in.UserID,
		StartDate: in.StartDate,
		EndDate:   in.EndDate,
	}

	err := pg.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var l listing
		err := tx.NewSelect().
			Model(&l).
			Where("l.id = ?", in.ListingID).
			For("UPDATE").
			Scan(ctx)
		if err != nil {
			return fmt.Errorf("select listing: %w", notFound(err))
		}

		overlapping, err := tx.NewSelect().
			Model((*reservation)(nil)).
			Where("r.listing_id = ?", in.ListingID).
			Where("r.status IS DISTINCT FROM 'cancelled'").
			Where("r.start_date < ?", in.EndDate).
			Where("r.end_date > ?", in.StartDate).
			Count(ctx)
		if err != nil {
			return fmt.Errorf("count overlapping reservations: %w", err)
		}
		if overlapping > 0 {
			return api.ErrDateConflict
		}

		r.TotalPrice = float64(api.RentalDays(in.StartDate, in.EndDate)) * l.Rate
		if _, err := tx.NewInsert().Model(r).Exec(ctx); err != nil {
			return fmt.Errorf("insert reservation: %w", err)
		}
		return nil
	})
	if err != nil {
		return api.Reservation{}, err
	}
	return r.APIReservation(), nil
}

// DeleteReservation removes a reservation row. No side effects beyond the
// row itself.
func (pg *Postgres) DeleteReservation(ctx context.Context, reservationID string) error {
	return pg.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewDelete().
			Model((*reservation)(nil)).
			Where("r.id = ?", reservationID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("delete reservation: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("delete reservation: %w", api.ErrNotFound)
		}
		return nil
	})
}

// ListUserReservations returns the user's reservations with their listing
// projections, newest first. Display status derivation happens in the API
// layer.
func (pg *Postgres) ListUserReservations(ctx context.Context, userID string) ([]api.Reservation, error) {
	var rs []reservation
	err := pg.bun.NewSelect().
		Model(&rs).
		Relation("Listing").
		Relation("Listing.Images").
		Where("r.user_id = ?", userID).
		Order("r.start_date DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("select reservations: %w", err)
	}
	out := make([]api.Reservation, len(rs))
	for i := range rs {
		out[i] = rs[i].APIReservation()
	}
	return out, nil
}
