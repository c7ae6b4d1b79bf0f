package cloudinary

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestClient_UploadContentType(t *testing.T) {
	tests := []struct {
		name       string
		data       []byte
		wantPrefix string
	}{
		{
			name:       "PNG",
			data:       []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"),
			wantPrefix: "data:image/png;base64,",
		},
		{
			name:       "JPEG",
			data:       []byte("\xff\xd8\xff\xe0\x00\x10JFIF"),
			wantPrefix: "data:image/jpeg;base64,",
		},
		{
			name:       "UnknownBytes",
			data:       []byte{0x00, 0x01, 0x02, 0x03},
			wantPrefix: "data:application/octet-stream;base64,",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotFile string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if err := r.ParseForm(); err != nil {
					t.Fatal(err)
				}
				gotFile = r.PostFormValue("file")
				w.Write([]byte(`{"secure_url": "https://cdn.example.com/img.png"}`))
			}))
			defer srv.Close()

			c := New(Config{CloudName: "demo", APIKey: "key", APISecret: "secret"})
			c.baseURL = srv.URL

			url, err := c.Upload(context.Background(), tt.data)
			if err != nil {
				t.Fatal(err)
			}
			if url != "https://cdn.example.com/img.png" {
				t.Errorf("Got URL %q, want https://cdn.example.com/img.png", url)
			}
			if !strings.HasPrefix(gotFile, tt.wantPrefix) {
				t.Errorf("Got file field %.60q, want prefix %q", gotFile, tt.wantPrefix)
			}
		})
	}
}

func TestClient_Delete(t *testing.T) {
	var gotPublicID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		gotPublicID = r.PostFormValue("public_id")
		w.Write([]byte(`{"result": "ok"}`))
	}))
	defer srv.Close()

	c := New(Config{CloudName: "demo", APIKey: "key", APISecret: "secret", Folder: "listings"})
	c.baseURL = srv.URL

	err := c.Delete(context.Background(), "https://res.cloudinary.com/demo/image/upload/v1/listings/abc123.png")
	if err != nil {
		t.Fatal(err)
	}
	if gotPublicID != "listings/abc123" {
		t.Errorf("Got public_id %q, want listings/abc123", gotPublicID)
	}
}
