package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/rzpsarthak13/strata/pkg/strata"
)

// Client calls a Server. Rows come back with JSON types; integers are
// json.Number.
type Client struct {
	url  string
	http *http.Client
	seq  atomic.Int64
}

// NewClient creates a client for the server at baseURL. A nil httpClient
// uses http.DefaultClient.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{url: strings.TrimSuffix(baseURL, "/") + "/rpc", http: httpClient}
}

// Call sends one request. A storage error in the response is returned as
// an error matching the same kind and code.
func (c *Client) Call(ctx context.Context, table string, method Method, args ...interface{}) (*Response, error) {
	rawArgs, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("failed to encode args: %w", err)
	}
	body, err := json.Marshal(&Request{
		ID:     strconv.FormatInt(c.seq.Add(1), 10),
		Table:  table,
		Method: method,
		Args:   rawArgs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("rpc %s.%s failed: %w", table, method, err)
	}
	defer httpResp.Body.Close()

	var resp Response
	dec := json.NewDecoder(httpResp.Body)
	dec.UseNumber()
	if err := dec.Decode(&resp); err != nil {
		return nil, fmt.Errorf("rpc %s.%s: bad response (status %d): %w", table, method, httpResp.StatusCode, err)
	}
	if resp.Error != nil {
		return &resp, resp.Error.Err()
	}
	return &resp, nil
}

// Table returns a remote façade of the named table.
func (c *Client) Table(name string) *RemoteTable {
	return &RemoteTable{client: c, name: name}
}

// RemoteTable mirrors the methods of strata.Table.
type RemoteTable struct {
	client *Client
	name   string
}

func (t *RemoteTable) rows(ctx context.Context, method Method, args ...interface{}) ([]strata.Row, error) {
	resp, err := t.client.Call(ctx, t.name, method, args...)
	if err != nil {
		return nil, err
	}
	if resp.Rows == nil {
		return []strata.Row{}, nil
	}
	return resp.Rows, nil
}

func (t *RemoteTable) FindFirst(ctx context.Context, plan strata.Plan) (strata.Row, bool, error) {
	resp, err := t.client.Call(ctx, t.name, MethodFindFirst, plan)
	if err != nil {
		return nil, false, err
	}
	return resp.Row, resp.Found != nil && *resp.Found, nil
}

func (t *RemoteTable) FindMany(ctx context.Context, plan strata.Plan) ([]strata.Row, error) {
	return t.rows(ctx, MethodFindMany, plan)
}

func (t *RemoteTable) Insert(ctx context.Context, row strata.Row) (strata.Row, error) {
	resp, err := t.client.Call(ctx, t.name, MethodInsert, row)
	if err != nil {
		return nil, err
	}
	return resp.Row, nil
}

func (t *RemoteTable) InsertMany(ctx context.Context, rows []strata.Row) ([]strata.Row, error) {
	return t.rows(ctx, MethodInsertMany, rows)
}

func (t *RemoteTable) Update(ctx context.Context, plan strata.Plan, patch strata.Row) ([]strata.Row, error) {
	return t.rows(ctx, MethodUpdate, plan, patch)
}

func (t *RemoteTable) Delete(ctx context.Context, plan strata.Plan) error {
	_, err := t.client.Call(ctx, t.name, MethodDelete, plan)
	return err
}

func (t *RemoteTable) DeleteAll(ctx context.Context) error {
	_, err := t.client.Call(ctx, t.name, MethodDeleteAll)
	return err
}

// LeftJoin runs a joined findMany against the named right table.
func (t *RemoteTable) LeftJoin(ctx context.Context, other string, opts strata.JoinOptions, plan strata.Plan) ([]strata.Row, error) {
	return t.rows(ctx, MethodLeftJoin, other, opts, plan)
}
