package client

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/go-resty/resty/v2"

	"factoid-api/internal/apierror"
)

// Factoid is a single fact about a topic
type Factoid struct {
	Topic string `json:"topic,omitempty"`
	ID    string `json:"id,omitempty"`
	Title string `json:"title,omitempty"`
	Body  string `json:"body,omitempty"`
}

// Page is one page of a topic listing
type Page struct {
	Items  []Factoid `json:"items"`
	Count  int       `json:"count"`
	Cursor string    `json:"cursor,omitempty"`
}

type Config struct {
	BaseURL string
	Timeout time.Duration

	// Region and Credentials enable SigV4 signing for IAM protected
	// API Gateway stages
	Region      string
	Credentials aws.CredentialsProvider
}

// Client talks to the factoid API
type Client struct {
	http        *resty.Client
	region      string
	credentials aws.CredentialsProvider
	signer      *v4.Signer
}

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:8081"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	c := &Client{
		region:      cfg.Region,
		credentials: cfg.Credentials,
		signer:      v4.NewSigner(),
	}
	c.http = resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json").
		SetPreRequestHook(c.sign)
	return c
}

func (c *Client) sign(_ *resty.Client, req *http.Request) error {
	if c.credentials == nil {
		return nil
	}

	creds, err := c.credentials.Retrieve(req.Context())
	if err != nil {
		return fmt.Errorf("retrieve credentials: %w", err)
	}

	payload, err := requestBody(req)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(payload)

	return c.signer.SignHTTP(req.Context(), creds, req, hex.EncodeToString(sum[:]), "execute-api", c.region, time.Now())
}

// requestBody reads the body without consuming it
func requestBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	if req.GetBody != nil {
		rc, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("read request body: %w", err)
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}

	payload, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	req.Body = io.NopCloser(bytes.NewReader(payload))
	return payload, nil
}

// List fetches one page of a topic, starting at cursor when not empty
func (c *Client) List(ctx context.Context, topic, cursor string) (*Page, error) {
	req := c.http.R().SetContext(ctx)
	if cursor != "" {
		req.SetQueryParam("cursor", cursor)
	}

	resp, err := req.Get("/api/factoids/" + url.PathEscape(topic))
	if err != nil {
		return nil, fmt.Errorf("list request: %w", err)
	}
	if err := mapHTTPError(resp); err != nil {
		return nil, err
	}

	var page Page
	if err := json.Unmarshal(resp.Body(), &page); err != nil {
		return nil, fmt.Errorf("decode page: %w", err)
	}
	return &page, nil
}

// ListAll follows cursors until the topic is exhausted
func (c *Client) ListAll(ctx context.Context, topic string) ([]Factoid, error) {
	var all []Factoid
	cursor := ""
	for {
		page, err := c.List(ctx, topic, cursor)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Items...)

		if page.Cursor == "" {
			return all, nil
		}
		cursor = page.Cursor
	}
}

// ListValid returns the factoids of a topic that carry a title or a body
func (c *Client) ListValid(ctx context.Context, topic string) ([]Factoid, error) {
	all, err := c.ListAll(ctx, topic)
	if err != nil {
		return nil, err
	}

	valid := make([]Factoid, 0, len(all))
	for _, f := range all {
		if f.Title != "" || f.Body != "" {
			valid = append(valid, f)
		}
	}
	return valid, nil
}

// Add stores a new factoid and returns it with its id
func (c *Client) Add(ctx context.Context, topic string, f Factoid) (*Factoid, error) {
	f.Topic, f.ID = "", ""

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(f).
		Post("/api/factoids/" + url.PathEscape(topic))
	if err != nil {
		return nil, fmt.Errorf("add request: %w", err)
	}
	if err := mapHTTPError(resp); err != nil {
		return nil, err
	}

	var created Factoid
	if err := json.Unmarshal(resp.Body(), &created); err != nil {
		return nil, fmt.Errorf("decode factoid: %w", err)
	}
	return &created, nil
}

// mapHTTPError turns a non 2xx response into a *apierror.StatusError
func mapHTTPError(resp *resty.Response) error {
	if resp.StatusCode() >= http.StatusOK && resp.StatusCode() < http.StatusMultipleChoices {
		return nil
	}

	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil || body.Message == "" {
		body.Message = strings.TrimSpace(string(resp.Body()))
	}
	return apierror.New(resp.StatusCode(), body.Message)
}
