package api

import (
	"net/http"
	"time"
)

// dateOnly is the wire format for reservation dates.
const dateOnly = "2006-01-02"

func (a *API) createReservation(w http.ResponseWriter, r *http.Request) {
	type request struct {
		ListingID string `json:"listing_id" validate:"required,uuid4"`
		StartDate string `json:"start_date" validate:"required"`
		EndDate   string `json:"end_date" validate:"required"`
	}
	type response struct {
		Message     string      `json:"message"`
		Reservation Reservation `json:"reservation"`
	}

	var body request
	if !a.decodeBody(w, r, &body) {
		return
	}
	if !a.validateBody(w, &body) {
		return
	}

	start, err := time.Parse(dateOnly, body.StartDate)
	if err != nil {
		a.respondError(w, http.StatusBadRequest, err, "Invalid start_date")
		return
	}
	end, err := time.Parse(dateOnly, body.EndDate)
	if err != nil {
		a.respondError(w, http.StatusBadRequest, err, "Invalid end_date")
		return
	}
	if !start.Before(end) {
		a.respondError(w, http.StatusBadRequest, ErrDateConflict, "start_date must be before end_date")
		return
	}
	// Date-only comparison: booking for today is allowed, the past is not.
	today := a.now().UTC().Truncate(24 * time.Hour)
	if start.Before(today) {
		a.respondError(w, http.StatusBadRequest, ErrDateConflict, "start_date must not be in the past")
		return
	}

	// Price derivation and the overlap check both happen inside the
	// storage transaction, against the listing row read there.
	res, err := a.DB.CreateReservation(r.Context(), Reservation{
		ListingID: body.ListingID,
		UserID:    CallerID(r.Context()),
		StartDate: start,
		EndDate:   end,
	})
	if err != nil {
		a.respondStorageError(w, err, "Error creating reservation")
		return
	}

	res.Status = DisplayStatus(a.now(), res)
	a.respond(w, http.StatusOK, response{
		Message:     "Booked reservation successfully!",
		Reservation: res,
	})
}

func (a *API) deleteReservation(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Message string `json:"message"`
	}

	reservationID := r.PathValue("reservationID")
	if !isUUID(reservationID) {
		a.respondError(w, http.StatusBadRequest, ErrNotFound, "Invalid reservation ID")
		return
	}

	if err := a.DB.DeleteReservation(r.Context(), reservationID); err != nil {
		a.respondStorageError(w, err, "Error deleting reservation")
		return
	}
	a.respond(w, http.StatusOK, response{Message: "Reservation has been deleted"})
}

func (a *API) myReservations(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Message      string        `json:"message"`
		Reservations []Reservation `json:"reservations"`
	}

	reservations, err := a.DB.ListUserReservations(r.Context(), CallerID(r.Context()))
	if err != nil {
		a.respondStorageError(w, err, "Error fetching reservations")
		return
	}

	now := a.now()
	for i := range reservations {
		reservations[i].Status = DisplayStatus(now, reservations[i])
	}
	if reservations == nil {
		reservations = []Reservation{}
	}
	a.respond(w, http.StatusOK, response{
		Message:      "Fetched reservations associated with the user",
		Reservations: reservations,
	})
}
