package api

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/neilotoole/slogt"
)

func TestAPI_createListingReview(t *testing.T) {
	jan1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		db         *testdb
		req        string
		wantStatus int
		wantBody   string
	}{
		{
			name:       "RatingAboveFive",
			req:        `{"subject_id": "` + testListingID + `", "rating": 5.5}`,
			wantStatus: 400,
		},
		{
			name:       "QuarterStarRating",
			req:        `{"subject_id": "` + testListingID + `", "rating": 3.25}`,
			wantStatus: 400,
			wantBody: `{
				"error": "rating must be in half-star increments"
			}`,
		},
		{
			name: "SubjectMissing",
			req:  `{"subject_id": "` + testListingID + `", "rating": 4}`,
			db: &testdb{
				createReview: func(t *testing.T, rev Review) (Review, error) {
					return Review{}, ErrNotFound
				},
			},
			wantStatus: 404,
			wantBody: `{
				"error": "Not found"
			}`,
		},
		{
			name: "OK",
			req:  `{"subject_id": "` + testListingID + `", "rating": 4.5, "comment": "sturdy"}`,
			db: &testdb{
				createReview: func(t *testing.T, rev Review) (Review, error) {
					if rev.SubjectType != SubjectListing {
						t.Errorf("Got SubjectType %q, want %q", rev.SubjectType, SubjectListing)
					}
					if rev.ReviewerID != testCallerID {
						t.Errorf("Got ReviewerID %q, want %q", rev.ReviewerID, testCallerID)
					}
					rev.ID = "1"
					rev.CreatedAt = jan1
					return rev, nil
				},
			},
			wantStatus: 201,
			wantBody: `{
				"message": "Review created successfully",
				"review": {
					"id": "1",
					"subject_type": "listing",
					"subject_id": "` + testListingID + `",
					"reviewer_id": "` + testCallerID + `",
					"rating": 4.5,
					"comment": "sturdy",
					"created_at": "2024-01-01T00:00:00Z"
				}
			}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.db == nil {
				tt.db = &testdb{}
			}
			tt.db.T = t
			api := &API{
				DB:     tt.db,
				Cache:  &testcache{T: t},
				Logger: slogt.New(t),
				Val:    NewValidator(),
				Auth:   &Auth{Secret: testSecret},
			}

			srv := newTestServer(t, api)
			defer srv.Close()

			req := authedRequest(t, "POST", srv.URL+"/review/listing", testCallerID, strings.NewReader(tt.req))
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			checkStatus(t, resp.StatusCode, tt.wantStatus)
			if tt.wantBody != "" {
				checkBody(t, resp, tt.wantBody)
			}
		})
	}
}

func TestAPI_createUserReview(t *testing.T) {
	db := &testdb{
		createReview: func(t *testing.T, rev Review) (Review, error) {
			if rev.SubjectType != SubjectUser {
				t.Errorf("Got SubjectType %q, want %q", rev.SubjectType, SubjectUser)
			}
			rev.ID = "1"
			return rev, nil
		},
	}
	db.T = t
	api := &API{
		DB:     db,
		Cache:  &testcache{T: t},
		Logger: slogt.New(t),
		Val:    NewValidator(),
		Auth:   &Auth{Secret: testSecret},
	}

	srv := newTestServer(t, api)
	defer srv.Close()

	body := `{"subject_id": "` + testOtherID + `", "rating": 5}`
	req := authedRequest(t, "POST", srv.URL+"/review/user", testCallerID, strings.NewReader(body))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	checkStatus(t, resp.StatusCode, 201)
}

func TestAPI_listListingReviews(t *testing.T) {
	db := &testdb{
		listReviews: func(t *testing.T, subjectType, subjectID string) ([]Review, error) {
			if subjectType != SubjectListing {
				t.Errorf("Got subjectType %q, want %q", subjectType, SubjectListing)
			}
			if subjectID != testListingID {
				t.Errorf("Got subjectID %q, want %q", subjectID, testListingID)
			}
			return nil, nil
		},
	}
	db.T = t
	api := &API{
		DB:     db,
		Cache:  &testcache{T: t},
		Logger: slogt.New(t),
		Auth:   &Auth{Secret: testSecret},
	}

	srv := newTestServer(t, api)
	defer srv.Close()

	req := authedRequest(t, "GET", srv.URL+"/review/listing/"+testListingID, testCallerID, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	checkStatus(t, resp.StatusCode, 200)
	checkBody(t, resp, `{
		"reviews": []
	}`)
}

func TestHalfIncrements(t *testing.T) {
	tests := []struct {
		rating float64
		want   bool
	}{
		{rating: 0, want: true},
		{rating: 3.5, want: true},
		{rating: 5, want: true},
		{rating: 3.25, want: false},
		{rating: 4.9, want: false},
	}

	for _, tt := range tests {
		if got := halfIncrements(tt.rating); got != tt.want {
			t.Errorf("halfIncrements(%v) = %v, want %v", tt.rating, got, tt.want)
		}
	}
}
