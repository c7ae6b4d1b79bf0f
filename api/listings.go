package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"
)

// maxImageBytes caps a single uploaded image.
const maxImageBytes = 5 << 20

// readImages pulls the raw image buffers out of a parsed multipart form.
func (a *API) readImages(w http.ResponseWriter, r *http.Request) ([][]byte, bool) {
	if r.MultipartForm == nil {
		return nil, true
	}
	var images [][]byte
	for _, fh := range r.MultipartForm.File["images"] {
		if fh.Size > maxImageBytes {
			a.respondError(w, http.StatusBadRequest, io.ErrShortBuffer, "Image exceeds the 5MB limit")
			return nil, false
		}
		f, err := fh.Open()
		if err != nil {
			a.respondError(w, http.StatusBadRequest, err, "Could not read image")
			return nil, false
		}
		data, err := io.ReadAll(io.LimitReader(f, maxImageBytes))
		f.Close()
		if err != nil {
			a.respondError(w, http.StatusBadRequest, err, "Could not read image")
			return nil, false
		}
		images = append(images, data)
	}
	return images, true
}

// uploadImages pushes every buffer to the object store before any
// transaction opens. On a partial failure the blobs uploaded so far are
// compensated away and the error is returned.
func (a *API) uploadImages(ctx context.Context, images [][]byte) ([]string, error) {
	urls := make([]string, 0, len(images))
	for _, img := range images {
		url, err := a.Objects.Upload(ctx, img)
		if err != nil {
			a.compensateUploads(ctx, urls)
			return nil, err
		}
		urls = append(urls, url)
	}
	return urls, nil
}

// compensateUploads best-effort deletes blobs whose rows never committed.
// A failed delete only wastes storage, so it is logged and swallowed.
func (a *API) compensateUploads(ctx context.Context, urls []string) {
	for _, url := range urls {
		if err := a.Objects.Delete(ctx, url); err != nil {
			a.Logger.Error("Could not delete uploaded image after rollback", "url", url, "error", err.Error())
		}
	}
}

// deleteCommittedBlobs removes blobs that a committed transaction has
// proven unreferenced. Failures are logged only; the write has already
// succeeded.
func (a *API) deleteCommittedBlobs(ctx context.Context, urls []string) {
	for _, url := range urls {
		if err := a.Objects.Delete(ctx, url); err != nil {
			a.Logger.Error("Could not delete unreferenced image", "url", url, "error", err.Error())
		}
	}
}

func (a *API) createListing(w http.ResponseWriter, r *http.Request) {
	type request struct {
		Title       string  `validate:"required,max=100"`
		Category    string  `validate:"required,max=50"`
		Description string  `validate:"max=2000"`
		Rate        float64 `validate:"gte=0"`
	}
	type response struct {
		ListingID string `json:"listing_id"`
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		a.respondError(w, http.StatusBadRequest, err, "Could not parse multipart form")
		return
	}

	rate, err := strconv.ParseFloat(r.FormValue("rate"), 64)
	if err != nil {
		a.respondError(w, http.StatusBadRequest, err, "Invalid rate")
		return
	}
	body := request{
		Title:       r.FormValue("title"),
		Category:    r.FormValue("category"),
		Description: r.FormValue("description"),
		Rate:        rate,
	}
	if !a.validateBody(w, &body) {
		return
	}

	var tags []string
	if raw := r.FormValue("tags"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &tags); err != nil {
			a.respondError(w, http.StatusBadRequest, err, "Invalid tags")
			return
		}
	}

	images, ok := a.readImages(w, r)
	if !ok {
		return
	}

	// Blobs first, then the transaction. Committed rows must never point
	// at a blob the store lacks.
	urls, err := a.uploadImages(r.Context(), images)
	if err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "Could not upload images")
		return
	}

	listing, err := a.DB.CreateListing(r.Context(), Listing{
		OwnerID:     CallerID(r.Context()),
		Title:       body.Title,
		Category:    body.Category,
		Description: body.Description,
		Rate:        body.Rate,
	}, urls, tags)
	if err != nil {
		// The transaction rolled back; the uploaded blobs are orphans.
		a.compensateUploads(r.Context(), urls)
		a.respondStorageError(w, err, "Could not create listing")
		return
	}

	a.respond(w, http.StatusCreated, response{ListingID: listing.ID})
}

func (a *API) editListing(w http.ResponseWriter, r *http.Request) {
	type request struct {
		ListingID   string  `validate:"required,uuid4"`
		Title       string  `validate:"required,max=100"`
		Category    string  `validate:"required,max=50"`
		Description string  `validate:"max=2000"`
		Rate        float64 `validate:"gte=0"`
	}
	type removedImage struct {
		ID string `json:"id"`
	}
	type response struct {
		ListingID string `json:"listing_id"`
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		a.respondError(w, http.StatusBadRequest, err, "Could not parse multipart form")
		return
	}

	rate, err := strconv.ParseFloat(r.FormValue("rate"), 64)
	if err != nil {
		a.respondError(w, http.StatusBadRequest, err, "Invalid rate")
		return
	}
	body := request{
		ListingID:   r.FormValue("listingId"),
		Title:       r.FormValue("title"),
		Category:    r.FormValue("category"),
		Description: r.FormValue("description"),
		Rate:        rate,
	}
	if !a.validateBody(w, &body) {
		return
	}

	listing, err := a.DB.GetListing(r.Context(), body.ListingID)
	if err != nil {
		a.respondStorageError(w, err, "Could not load listing")
		return
	}
	if listing.OwnerID != CallerID(r.Context()) {
		a.respondError(w, http.StatusForbidden, ErrForbidden, "Only the owner can edit a listing")
		return
	}

	var newTags []string
	if raw := r.FormValue("newTags"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &newTags); err != nil {
			a.respondError(w, http.StatusBadRequest, err, "Invalid newTags")
			return
		}
	}
	var removeTagIDs []string
	if raw := r.FormValue("tagsToRemove"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &removeTagIDs); err != nil {
			a.respondError(w, http.StatusBadRequest, err, "Invalid tagsToRemove")
			return
		}
	}
	var removedImages []removedImage
	if raw := r.FormValue("imagesToRemove"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &removedImages); err != nil {
			a.respondError(w, http.StatusBadRequest, err, "Invalid imagesToRemove")
			return
		}
	}

	images, ok := a.readImages(w, r)
	if !ok {
		return
	}

	newURLs, err := a.uploadImages(r.Context(), images)
	if err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "Could not upload images")
		return
	}

	edit := ListingEdit{
		ListingID:    body.ListingID,
		Title:        body.Title,
		Category:     body.Category,
		Description:  body.Description,
		Rate:         body.Rate,
		NewImageURLs: newURLs,
		NewTags:      newTags,
		RemoveTagIDs: removeTagIDs,
	}
	for _, img := range removedImages {
		edit.RemoveImageIDs = append(edit.RemoveImageIDs, img.ID)
	}

	// The URLs to clean up come back from the removed rows themselves, not
	// from the request body. A caller can only ever delete blobs its own
	// listing actually referenced.
	removedURLs, err := a.DB.UpdateListing(r.Context(), edit)
	if err != nil {
		// Rolled back: the new blobs are unreferenced, the old ones are
		// still referenced and must not be touched.
		a.compensateUploads(r.Context(), newURLs)
		a.respondStorageError(w, err, "Could not update listing")
		return
	}

	// Only now are the removed images provably unreferenced.
	a.deleteCommittedBlobs(r.Context(), removedURLs)

	a.respond(w, http.StatusOK, response{ListingID: body.ListingID})
}

func (a *API) deleteListing(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Message string `json:"message"`
	}

	listingID := r.PathValue("listingID")
	if !isUUID(listingID) {
		a.respondError(w, http.StatusBadRequest, ErrNotFound, "Invalid listing ID")
		return
	}

	listing, err := a.DB.GetListing(r.Context(), listingID)
	if err != nil {
		a.respondStorageError(w, err, "Could not load listing")
		return
	}
	if listing.OwnerID != CallerID(r.Context()) {
		a.respondError(w, http.StatusForbidden, ErrForbidden, "Only the owner can delete a listing")
		return
	}

	// The row delete cascades to images, tags, reservations, conversations
	// and reviews inside one transaction.
	if err := a.DB.DeleteListing(r.Context(), listingID); err != nil {
		a.respondStorageError(w, err, "Could not delete listing")
		return
	}

	urls := make([]string, 0, len(listing.Images))
	for _, img := range listing.Images {
		urls = append(urls, img.URL)
	}
	a.deleteCommittedBlobs(r.Context(), urls)

	a.respond(w, http.StatusOK, response{Message: "Listing deleted successfully"})
}

func (a *API) getListing(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Listing Listing `json:"listing"`
	}

	listingID := r.PathValue("listingID")
	if !isUUID(listingID) {
		a.respondError(w, http.StatusBadRequest, ErrNotFound, "Invalid listing ID")
		return
	}

	listing, err := a.DB.GetListing(r.Context(), listingID)
	if err != nil {
		a.respondStorageError(w, err, "Could not load listing")
		return
	}
	a.respond(w, http.StatusOK, response{Listing: listing})
}

func (a *API) myListings(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Listings []Listing `json:"listings"`
	}

	listings, err := a.DB.ListUserListings(r.Context(), CallerID(r.Context()))
	if err != nil {
		a.respondStorageError(w, err, "Could not list listings")
		return
	}
	if listings == nil {
		listings = []Listing{}
	}
	a.respond(w, http.StatusOK, response{Listings: listings})
}

func (a *API) searchListings(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Listings []Listing `json:"listings"`
	}

	params := r.URL.Query()
	q := ListingSearch{
		Keyword:  params.Get("keyword"),
		Category: params.Get("category"),
	}
	if raw := params.Get("postedAfter"); raw != "" {
		ts, err := time.Parse("2006-01-02", raw)
		if err != nil {
			a.respondError(w, http.StatusBadRequest, err, "Invalid postedAfter date")
			return
		}
		q.PostedAfter = ts
	}
	from, to := params.Get("availableFrom"), params.Get("availableTo")
	if (from == "") != (to == "") {
		a.respondError(w, http.StatusBadRequest, errors.New("half-open availability window"),
			"availableFrom and availableTo must be provided together")
		return
	}
	if from != "" {
		start, err := time.Parse("2006-01-02", from)
		if err != nil {
			a.respondError(w, http.StatusBadRequest, err, "Invalid availableFrom date")
			return
		}
		end, err := time.Parse("2006-01-02", to)
		if err != nil {
			a.respondError(w, http.StatusBadRequest, err, "Invalid availableTo date")
			return
		}
		if !end.After(start) {
			a.respondError(w, http.StatusBadRequest, errors.New("empty availability window"),
				"availableTo must be after availableFrom")
			return
		}
		q.AvailableFrom, q.AvailableTo = start, end
	}

	listings, err := a.DB.SearchListings(r.Context(), q)
	if err != nil {
		a.respondStorageError(w, err, "Could not search listings")
		return
	}
	if listings == nil {
		listings = []Listing{}
	}
	a.respond(w, http.StatusOK, response{Listings: listings})
}
