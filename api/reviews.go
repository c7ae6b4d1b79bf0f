package api

import (
	"math"
	"net/http"
)

// halfIncrements reports whether a rating lands on a half-star boundary.
func halfIncrements(rating float64) bool {
	scaled := rating * 2
	return scaled == math.Trunc(scaled)
}

func (a *API) createReview(w http.ResponseWriter, r *http.Request, subjectType string) {
	type request struct {
		SubjectID string  `json:"subject_id" validate:"required,uuid4"`
		Rating    float64 `json:"rating" validate:"gte=0,lte=5"`
		Comment   string  `json:"comment" validate:"max=250"`
	}
	type response struct {
		Message string `json:"message"`
		Review  Review `json:"review"`
	}

	var body request
	if !a.decodeBody(w, r, &body) {
		return
	}
	if !a.validateBody(w, &body) {
		return
	}
	if !halfIncrements(body.Rating) {
		a.respondError(w, http.StatusBadRequest, ErrForbidden, "rating must be in half-star increments")
		return
	}

	// The review insert and the subject's rating recompute commit
	// together; the denormalized average is never visible in a state
	// inconsistent with the review set that produced it.
	rev, err := a.DB.CreateReview(r.Context(), Review{
		SubjectType: subjectType,
		SubjectID:   body.SubjectID,
		ReviewerID:  CallerID(r.Context()),
		Rating:      body.Rating,
		Comment:     body.Comment,
	})
	if err != nil {
		a.respondStorageError(w, err, "Could not create review")
		return
	}

	a.respond(w, http.StatusCreated, response{
		Message: "Review created successfully",
		Review:  rev,
	})
}

func (a *API) createListingReview(w http.ResponseWriter, r *http.Request) {
	a.createReview(w, r, SubjectListing)
}

func (a *API) createUserReview(w http.ResponseWriter, r *http.Request) {
	a.createReview(w, r, SubjectUser)
}

func (a *API) listReviews(w http.ResponseWriter, r *http.Request, subjectType, subjectID string) {
	type response struct {
		Reviews []Review `json:"reviews"`
	}

	if !isUUID(subjectID) {
		a.respondError(w, http.StatusBadRequest, ErrNotFound, "Invalid subject ID")
		return
	}

	reviews, err := a.DB.ListReviews(r.Context(), subjectType, subjectID)
	if err != nil {
		a.respondStorageError(w, err, "Could not list reviews")
		return
	}
	if reviews == nil {
		reviews = []Review{}
	}
	a.respond(w, http.StatusOK, response{Reviews: reviews})
}

func (a *API) listListingReviews(w http.ResponseWriter, r *http.Request) {
	a.listReviews(w, r, SubjectListing, r.PathValue("listingID"))
}

func (a *API) listUserReviews(w http.ResponseWriter, r *http.Request) {
	a.listReviews(w, r, SubjectUser, r.PathValue("userID"))
}
