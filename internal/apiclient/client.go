// Package apiclient talks to the content API. It implements the collaborator
// interfaces of the editor and experiment pipelines.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"

	"github.com/gosight/pagelab/internal/config"
	"github.com/gosight/pagelab/internal/content"
	"github.com/gosight/pagelab/internal/editor"
	"github.com/gosight/pagelab/internal/experiment"
)

// OperatorHeader carries the editor operator token.
const OperatorHeader = "X-CMS-Operator"

var (
	_ editor.ContentSource = (*Client)(nil)
	_ editor.ContentSink   = (*Client)(nil)
	_ experiment.Service   = (*Client)(nil)
)

// StatusError is a non-2xx reply.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("content api: status %d", e.Code)
	}
	return fmt.Sprintf("content api: status %d: %s", e.Code, e.Message)
}

// Client is safe for concurrent use. Its cookie jar keeps the visitor id the
// API issues, so one Client is one visitor.
type Client struct {
	baseURL string
	base    *url.URL
	token   string
	jar     http.CookieJar
	http    *http.Client
}

func New(cfg config.APIConfig, operatorToken string) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		base:    base,
		token:   operatorToken,
		jar:     jar,
		http:    &http.Client{Timeout: cfg.Timeout, Jar: jar},
	}, nil
}

// Cookie returns the value of a cookie the API has set, or "".
func (c *Client) Cookie(name string) string {
	for _, ck := range c.jar.Cookies(c.base) {
		if ck.Name == name {
			return ck.Value
		}
	}
	return ""
}

// SetCookie seeds the jar, so a visitor can be resumed across clients.
func (c *Client) SetCookie(name, value string) {
	c.jar.SetCookies(c.base, []*http.Cookie{{Name: name, Value: value, Path: "/"}})
}

// id decodes an id sent as a JSON number or string.
type id string

func (i *id) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*i = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		s = str
	}
	*i = id(strings.TrimSpace(s))
	return nil
}

type contentResponse struct {
	Content content.Map `json:"content"`
}

type variantResponse struct {
	ActiveTest       bool   `json:"active_test"`
	TestID           id     `json:"test_id"`
	VariantID        id     `json:"variant_id"`
	TestType         string `json:"test_type"`
	ContentVersionID id     `json:"content_version_id"`
	GoalPageID       id     `json:"goal_page_id"`
}

type testResponse struct {
	GoalPageID id `json:"goal_page_id"`
}

type saveResponse struct {
	Success   bool `json:"success"`
	VersionID id   `json:"version_id"`
}

type conversionResponse struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason"`
}

// PageContent fetches the editor content map of a page.
func (c *Client) PageContent(ctx context.Context, pageID string) (content.Map, error) {
	var resp contentResponse
	if err := c.do(ctx, http.MethodGet, "/api/page/"+url.PathEscape(pageID)+"/content", nil, &resp); err != nil {
		return nil, err
	}
	if resp.Content == nil {
		return content.Map{}, nil
	}
	return resp.Content, nil
}

// SaveContent stores a change set as the page's active version and returns
// the version id.
func (c *Client) SaveContent(ctx context.Context, pageID string, cs content.ChangeSet) (string, error) {
	var resp saveResponse
	body := map[string]interface{}{"content": cs}
	if err := c.do(ctx, http.MethodPost, "/api/page/"+url.PathEscape(pageID)+"/content", body, &resp); err != nil {
		return "", err
	}
	if !resp.Success {
		return "", fmt.Errorf("content api: save not acknowledged")
	}
	return string(resp.VersionID), nil
}

func (c *Client) SavePageContent(ctx context.Context, pageID string, cs content.ChangeSet) error {
	_, err := c.SaveContent(ctx, pageID, cs)
	return err
}

func (c *Client) ActiveVariant(ctx context.Context, pageID, testType string) (experiment.VariantInfo, error) {
	q := url.Values{"page_id": {pageID}, "test_type": {testType}}
	var resp variantResponse
	if err := c.do(ctx, http.MethodGet, "/api/test/variant?"+q.Encode(), nil, &resp); err != nil {
		return experiment.VariantInfo{}, err
	}
	return experiment.VariantInfo{
		ActiveTest:       resp.ActiveTest,
		TestID:           string(resp.TestID),
		VariantID:        string(resp.VariantID),
		TestType:         resp.TestType,
		ContentVersionID: string(resp.ContentVersionID),
		GoalPageID:       string(resp.GoalPageID),
	}, nil
}

func (c *Client) ContentVersion(ctx context.Context, versionID string) (content.Map, error) {
	var resp contentResponse
	if err := c.do(ctx, http.MethodGet, "/api/content_version/"+url.PathEscape(versionID), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Content, nil
}

func (c *Client) GoalPage(ctx context.Context, testID string) (string, error) {
	var resp testResponse
	if err := c.do(ctx, http.MethodGet, "/api/test/"+url.PathEscape(testID), nil, &resp); err != nil {
		return "", err
	}
	return string(resp.GoalPageID), nil
}

// RecordConversion posts a conversion. A visitor that already converted is
// not an error.
func (c *Client) RecordConversion(ctx context.Context, testID, variantID string) error {
	var resp conversionResponse
	body := map[string]string{"test_id": testID, "variant_id": variantID}
	return c.do(ctx, http.MethodPost, "/api/test/conversion", body, &resp)
}

func (c *Client) RecordPageView(ctx context.Context, pageID string) error {
	return c.do(ctx, http.MethodPost, "/api/page_view", map[string]string{"page_id": pageID}, nil)
}

// ActivateVersion makes a content version the active one for its page.
func (c *Client) ActivateVersion(ctx context.Context, versionID string) error {
	return c.do(ctx, http.MethodPost, "/api/content_version/"+url.PathEscape(versionID)+"/activate", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set(OperatorHeader, c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(data, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(data))
		}
		return &StatusError{Code: resp.StatusCode, Message: e.Error}
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
