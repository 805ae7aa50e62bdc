// Package directory is the HTTP client of the user directory and the post store: follower
// lists, user summaries and post/comment snapshots.
package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"github.com/webitel/im-notification-service/config"
	"github.com/webitel/im-notification-service/internal/domain/errs"
	"github.com/webitel/im-notification-service/internal/domain/identity"
	"github.com/webitel/im-notification-service/internal/domain/model"
)

// Client is safe for concurrent use. Every call passes through one circuit breaker so a
// failing directory turns into fast transient errors instead of piling up timeouts.
type Client struct {
	usersURL string
	postsURL string
	http     *http.Client
	breaker  *gobreaker.CircuitBreaker
	logger   *slog.Logger
}

func New(cfg *config.Config, logger *slog.Logger) *Client {
	timeout := cfg.Directory.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	c := &Client{
		usersURL: strings.TrimRight(cfg.Directory.UsersURL, "/"),
		postsURL: strings.TrimRight(cfg.Directory.PostsURL, "/"),
		http:     &http.Client{Timeout: timeout},
		logger:   logger,
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "directory",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// A miss is an answer, not an outage.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, errs.ErrNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("CIRCUIT_STATE_CHANGED", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return c
}

// Close releases idle keep-alive connections.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

type userWire struct {
	ID       identity.ID `json:"_id"`
	AltID    identity.ID `json:"id"`
	Username string      `json:"username"`
	FullName string      `json:"fullName"`
	Avatar   string      `json:"avatar"`
}

func (u userWire) summary() model.UserSummary {
	id := u.ID
	if id.IsZero() {
		id = u.AltID
	}
	return model.UserSummary{ID: id.String(), Username: u.Username, FullName: u.FullName, Avatar: u.Avatar}
}

// Followers lists the ids of users following userID.
func (c *Client) Followers(ctx context.Context, userID string) ([]string, error) {
	var out struct {
		Followers []identity.ID `json:"followers"`
	}
	if err := c.get(ctx, c.usersURL+"/users/"+url.PathEscape(userID)+"/followers", &out); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(out.Followers))
	for _, id := range out.Followers {
		if !id.IsZero() {
			ids = append(ids, id.String())
		}
	}
	return ids, nil
}

// Users resolves summaries for ids. Unknown ids are absent from the result.
func (c *Client) Users(ctx context.Context, ids []string) ([]model.UserSummary, error) {
	return c.users(ctx, "ids", ids)
}

// UsersByName resolves summaries by username, used for @mention lookups.
func (c *Client) UsersByName(ctx context.Context, usernames []string) ([]model.UserSummary, error) {
	return c.users(ctx, "usernames", usernames)
}

func (c *Client) users(ctx context.Context, param string, values []string) ([]model.UserSummary, error) {
	if len(values) == 0 {
		return nil, nil
	}
	q := url.Values{}
	q.Set(param, strings.Join(values, ","))

	var out struct {
		Users []userWire `json:"users"`
	}
	if err := c.get(ctx, c.usersURL+"/users?"+q.Encode(), &out); err != nil {
		return nil, err
	}

	res := make([]model.UserSummary, 0, len(out.Users))
	for _, u := range out.Users {
		res = append(res, u.summary())
	}
	return res, nil
}

func (c *Client) Post(ctx context.Context, id string) (*model.PostSnapshot, error) {
	var out struct {
		ID     identity.ID `json:"_id"`
		Author identity.ID `json:"author"`
		Text   string      `json:"text"`
		Media  string      `json:"media"`
	}
	if err := c.get(ctx, c.postsURL+"/posts/"+url.PathEscape(id), &out); err != nil {
		return nil, err
	}
	return &model.PostSnapshot{ID: out.ID.String(), AuthorID: out.Author.String(), Text: out.Text, Media: out.Media}, nil
}

func (c *Client) Comment(ctx context.Context, id string) (*model.CommentSnapshot, error) {
	var out struct {
		ID     identity.ID `json:"_id"`
		Post   identity.ID `json:"post"`
		Author identity.ID `json:"author"`
		Text   string      `json:"text"`
	}
	if err := c.get(ctx, c.postsURL+"/comments/"+url.PathEscape(id), &out); err != nil {
		return nil, err
	}
	return &model.CommentSnapshot{ID: out.ID.String(), PostID: out.Post.String(), AuthorID: out.Author.String(), Text: out.Text}, nil
}

func (c *Client) get(ctx context.Context, rawURL string, dst any) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.do(ctx, rawURL, dst)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return errs.Transient(fmt.Errorf("directory: %w", err))
	}
	return err
}

func (c *Client) do(ctx context.Context, rawURL string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("directory request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errs.Transient(fmt.Errorf("directory call: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		return errs.ErrNotFound
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		_, _ = io.Copy(io.Discard, resp.Body)
		return errs.Transient(fmt.Errorf("directory returned status code %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("directory returned status code %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("directory decode: %w", err)
	}
	return nil
}
