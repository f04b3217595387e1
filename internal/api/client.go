package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/flamebridge/internal/board"
	"github.com/DoyleJ11/flamebridge/internal/types"
)

var ErrLookup = errors.New("board lookup failed")
var ErrPublish = errors.New("board update failed")

const DefaultTimeout = 10 * time.Second

// Client talks to the REST API that owns the authoritative board.
type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

func NewClient(baseURL string, httpClient *http.Client, log *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		log:     log.Named("api"),
	}
}

// FindBoard resolves the board a user plays in a game.
func (c *Client) FindBoard(ctx context.Context, game, user int64) (int64, error) {
	q := url.Values{}
	q.Set("game", strconv.FormatInt(game, 10))
	q.Set("user", strconv.FormatInt(user, 10))

	body, err := c.get(ctx, "/boards/find", q)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrLookup, err)
	}

	var env types.Envelope[types.BoardRef]
	if err := json.Unmarshal(body, &env); err != nil {
		return 0, fmt.Errorf("%w: decode response: %v", ErrLookup, err)
	}
	if env.Data.ID == 0 {
		return 0, fmt.Errorf("%w: response has no board id", ErrLookup)
	}
	c.log.Info("board found", zap.Int64("board_id", env.Data.ID), zap.Int64("game", game), zap.Int64("user", user))
	return env.Data.ID, nil
}

// UpdateBoard publishes b as the board's new state. The state travels as
// a JSON grid in the query string.
func (c *Client) UpdateBoard(ctx context.Context, id int64, b board.Board) error {
	state, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("%w: encode state: %v", ErrPublish, err)
	}
	q := url.Values{}
	q.Set("state", string(state))

	if _, err := c.get(ctx, fmt.Sprintf("/boards/%d/update", id), q); err != nil {
		return fmt.Errorf("%w: %v", ErrPublish, err)
	}
	c.log.Debug("board updated", zap.Int64("board_id", id))
	return nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("GET %s: status %d: %s", path, resp.StatusCode, truncate(string(body), 200))
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
