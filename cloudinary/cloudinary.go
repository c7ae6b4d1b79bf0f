// Package cloudinary implements the object store for listing images on the
// Cloudinary upload API. Uploads and deletes are signed form posts; the
// service has no transactional relationship to the relational store.
package cloudinary

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Config holds the account credentials and the optional target folder.
type Config struct {
	CloudName string
	APIKey    string
	APISecret string
	Folder    string
}

// Client talks to the Cloudinary image API.
type Client struct {
	cfg  Config
	http *http.Client

	// baseURL is overridable for tests.
	baseURL string
}

// New returns a client for the given account.
func New(cfg Config) *Client {
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: 30 * time.Second},
		baseURL: "https://api.cloudinary.com/v1_1",
	}
}

// Upload pushes an image and returns its stable URL.
func (c *Client) Upload(ctx context.Context, data []byte) (string, error) {
	publicID := uuid.NewString()
	if c.cfg.Folder != "" {
		publicID = c.cfg.Folder + "/" + publicID
	}

	// The content type is sniffed from the bytes; clients upload PNG and
	// WebP as well as JPEG.
	form := url.Values{}
	form.Add("file", "data:"+http.DetectContentType(data)+";base64,"+base64.StdEncoding.EncodeToString(data))
	form.Add("api_key", c.cfg.APIKey)
	form.Add("public_id", publicID)
	c.sign(form, "public_id="+publicID)

	endpoint := fmt.Sprintf("%s/%s/image/upload", c.baseURL, c.cfg.CloudName)
	body, err := c.post(ctx, endpoint, form)
	if err != nil {
		return "", fmt.Errorf("upload image: %w", err)
	}

	var res struct {
		SecureURL string `json:"secure_url"`
		URL       string `json:"url"`
		Error     struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	if res.Error.Message != "" {
		return "", fmt.Errorf("upload image: %s", res.Error.Message)
	}
	if res.SecureURL != "" {
		return res.SecureURL, nil
	}
	if res.URL != "" {
		return res.URL, nil
	}
	return "", fmt.Errorf("upload image: no url in response")
}

// Delete destroys the blob behind a previously returned URL. Deleting an
// already-absent blob is not an error; callers treat failures as
// best-effort cleanup.
func (c *Client) Delete(ctx context.Context, imageURL string) error {
	publicID, err := publicIDFromURL(imageURL, c.cfg.Folder)
	if err != nil {
		return err
	}

	form := url.Values{}
	form.Add("api_key", c.cfg.APIKey)
	form.Add("public_id", publicID)
	c.sign(form, "public_id="+publicID)

	endpoint := fmt.Sprintf("%s/%s/image/destroy", c.baseURL, c.cfg.CloudName)
	body, err := c.post(ctx, endpoint, form)
	if err != nil {
		return fmt.Errorf("delete image: %w", err)
	}

	var res struct {
		Result string `json:"result"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return fmt.Errorf("decode destroy response: %w", err)
	}
	if res.Result != "ok" && res.Result != "not found" {
		return fmt.Errorf("delete image: %s", res.Result)
	}
	return nil
}

// sign adds the timestamp and the SHA1 request signature Cloudinary
// expects for authenticated calls.
func (c *Client) sign(form url.Values, params string) {
	timestamp := fmt.Sprintf("%d", time.Now().Unix())
	form.Add("timestamp", timestamp)
	signature := sha1.Sum([]byte(fmt.Sprintf("%s&timestamp=%s%s", params, timestamp, c.cfg.APISecret)))
	form.Add("signature", fmt.Sprintf("%x", signature))
}

func (c *Client) post(ctx context.Context, endpoint string, form url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBufferString(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", res.StatusCode, body)
	}
	return body, nil
}

// publicIDFromURL recovers the public id from a delivery URL of the form
// .../image/upload/v123/FOLDER/PUBLIC_ID.jpg.
func publicIDFromURL(imageURL, folder string) (string, error) {
	u, err := url.Parse(imageURL)
	if err != nil {
		return "", fmt.Errorf("parse image url: %w", err)
	}
	base := path.Base(u.Path)
	publicID := strings.TrimSuffix(base, path.Ext(base))
	if publicID == "" {
		return "", fmt.Errorf("no public id in url %q", imageURL)
	}
	if folder != "" {
		publicID = folder + "/" + publicID
	}
	return publicID, nil
}
