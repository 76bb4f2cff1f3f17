package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/time/rate"

	"catalog_sync/config"
	"catalog_sync/models"
)

// Client talks to the Vista-style CRM REST API. It never retries; callers
// decide what a failed page means.
type Client struct {
	baseURL string
	apiKey  string
	fields  config.FieldProjection
	client  *http.Client
	limiter *rate.Limiter
}

func NewClient(cfg config.CRMConfig, client *http.Client) *Client {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		fields:  cfg.Fields,
		client:  client,
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return c
}

type pagination struct {
	Page     int `json:"pagina"`
	Quantity int `json:"quantidade"`
}

type search struct {
	Fields     []any             `json:"fields"`
	Order      map[string]string `json:"order,omitempty"`
	Pagination *pagination       `json:"paginacao,omitempty"`
}

func (c *Client) listSearch(fields []string, page, pageSize int) search {
	s := search{
		Fields:     stringsToAny(fields),
		Pagination: &pagination{Page: page, Quantity: pageSize},
	}
	if c.fields.OrderBy != "" {
		s.Order = map[string]string{c.fields.OrderBy: "desc"}
	}
	return s
}

// ListPage returns the listing codes on one page, in the order the CRM
// ranked them.
func (c *Client) ListPage(ctx context.Context, page, pageSize int) ([]string, error) {
	body, err := c.list(ctx, "list ids", c.fields.IDs, page, pageSize)
	if err != nil {
		return nil, err
	}

	ids, err := parseIDs(body)
	if err != nil {
		return nil, &TransportError{Op: "list ids", URL: c.redacted("listar"), StatusCode: http.StatusOK, Err: err}
	}
	return ids, nil
}

// ListListings returns the raw list projection of one page.
func (c *Client) ListListings(ctx context.Context, page, pageSize int) (json.RawMessage, error) {
	return c.list(ctx, "list listings", c.fields.List, page, pageSize)
}

func (c *Client) list(ctx context.Context, op string, fields []string, page, pageSize int) (json.RawMessage, error) {
	q, err := c.query(c.listSearch(fields, page, pageSize))
	if err != nil {
		return nil, err
	}
	q.Set("showtotal", "1")

	return c.get(ctx, op, "listar", q)
}

// FetchDetails returns the full payload of one listing, photos included.
func (c *Client) FetchDetails(ctx context.Context, id string) (*models.CRMListing, error) {
	fields := stringsToAny(c.fields.Detail)
	if len(c.fields.Photo) > 0 {
		fields = append(fields, map[string][]string{"Foto": c.fields.Photo})
	}

	q, err := c.query(search{Fields: fields})
	if err != nil {
		return nil, err
	}
	q.Set("imovel", id)

	body, err := c.get(ctx, "details", "detalhes", q)
	if err != nil {
		var te *TransportError
		if errors.As(err, &te) && te.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("listing %s: %w", id, ErrNotFound)
		}
		return nil, err
	}

	var listing models.CRMListing
	if err := json.Unmarshal(body, &listing); err != nil {
		return nil, &TransportError{Op: "details", URL: c.redacted("detalhes"), StatusCode: http.StatusOK, Err: fmt.Errorf("decode: %w", err)}
	}
	// Unknown codes come back as 200 with a bare {"message": ...} body.
	if listing.Code == "" {
		return nil, fmt.Errorf("listing %s: %w", id, ErrNotFound)
	}
	return &listing, nil
}

// ListFields returns the CRM's field catalog untouched.
func (c *Client) ListFields(ctx context.Context) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("key", c.apiKey)
	return c.get(ctx, "list fields", "listarcampos", q)
}

func (c *Client) query(s search) (url.Values, error) {
	pesquisa, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode search: %w", err)
	}
	q := url.Values{}
	q.Set("key", c.apiKey)
	q.Set("pesquisa", string(pesquisa))
	return q, nil
}

func (c *Client) get(ctx context.Context, op, endpoint string, q url.Values) (json.RawMessage, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &TransportError{Op: op, URL: c.redacted(endpoint), Err: err}
		}
	}

	reqURL := c.baseURL + "/" + endpoint + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, &TransportError{Op: op, URL: c.redacted(endpoint), Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &TransportError{Op: op, URL: c.redacted(endpoint), Err: c.redactErr(err, endpoint)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: op, URL: c.redacted(endpoint), StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		log.Printf("CRM: %s returned %d", endpoint, resp.StatusCode)
		return nil, &TransportError{
			Op:         op,
			URL:        c.redacted(endpoint),
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s: %s", http.StatusText(resp.StatusCode), truncate(body, 200)),
		}
	}

	return json.RawMessage(body), nil
}

func (c *Client) redacted(endpoint string) string {
	return c.baseURL + "/" + endpoint
}

// parseIDs extracts codes from a list response. Rows are keyed "1", "2", ...
// next to scalar metadata such as "total" and "paginas"; only object values
// are rows.
func parseIDs(body []byte) ([]string, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}

	type row struct {
		Code models.Text `json:"Codigo"`
	}

	if body[0] == '[' {
		var rows []row
		if err := json.Unmarshal(body, &rows); err != nil {
			return nil, fmt.Errorf("decode list: %w", err)
		}
		ids := make([]string, 0, len(rows))
		for _, r := range rows {
			if r.Code != "" {
				ids = append(ids, r.Code.String())
			}
		}
		return ids, nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode list: %w", err)
	}

	keys := make([]string, 0, len(raw))
	for k, v := range raw {
		v = bytes.TrimSpace(v)
		if len(v) > 0 && v[0] == '{' {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		ni, ei := strconv.Atoi(keys[i])
		nj, ej := strconv.Atoi(keys[j])
		if ei == nil && ej == nil {
			return ni < nj
		}
		return keys[i] < keys[j]
	})

	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		var r row
		if err := json.Unmarshal(raw[k], &r); err != nil {
			return nil, fmt.Errorf("decode row %s: %w", k, err)
		}
		if r.Code != "" {
			ids = append(ids, r.Code.String())
		}
	}
	return ids, nil
}

func stringsToAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

// redactErr drops the query string, and with it the API key, from the URL a
// failed request reports. The error chain is kept intact.
func (c *Client) redactErr(err error, endpoint string) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		ue.URL = c.redacted(endpoint)
	}
	return err
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
