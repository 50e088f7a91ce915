// Package client talks to the board HTTP API and keeps a local optimistic copy
// of one board.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/kanban-keeper/internal/errs"
	"github.com/and161185/kanban-keeper/internal/model"
)

// API is a thin JSON client. Requests addressing temp ids are answered locally
// with success and never leave the process.
type API struct {
	base *url.URL
	hc   *http.Client

	mu    sync.RWMutex
	token string
}

// Option configures an API.
type Option func(*API)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option { return func(a *API) { a.hc = hc } }

// WithToken sets the bearer token.
func WithToken(tok string) Option { return func(a *API) { a.token = tok } }

// NewAPI returns a client rooted at baseURL.
func NewAPI(baseURL string, opts ...Option) (*API, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base url %q: scheme and host required", baseURL)
	}
	a := &API{base: u, hc: &http.Client{Timeout: 15 * time.Second}}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

// Token returns the current bearer token.
func (a *API) Token() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.token
}

func (a *API) setToken(tok string) {
	a.mu.Lock()
	a.token = tok
	a.mu.Unlock()
}

// LoginResult is the result of a login.
type LoginResult struct {
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
	UserID      uuid.UUID `json:"userId"`
	Username    string    `json:"username"`
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Register creates an account and returns its id.
func (a *API) Register(ctx context.Context, username, password string) (uuid.UUID, error) {
	var out struct {
		ID uuid.UUID `json:"id"`
	}
	err := a.do(ctx, http.MethodPost, "/auth/register", credentials{username, password}, &out)
	return out.ID, err
}

// Login authenticates and keeps the returned token for later calls.
func (a *API) Login(ctx context.Context, username, password string) (LoginResult, error) {
	var out LoginResult
	if err := a.do(ctx, http.MethodPost, "/auth/login", credentials{username, password}, &out); err != nil {
		return LoginResult{}, err
	}
	a.setToken(out.AccessToken)
	return out, nil
}

// Boards lists boards visible to the caller.
func (a *API) Boards(ctx context.Context) ([]model.Board, error) {
	var out []model.Board
	err := a.do(ctx, http.MethodGet, "/boards", nil, &out)
	return out, err
}

type boardBody struct {
	Title    string      `json:"title"`
	Theme    model.Theme `json:"theme,omitempty"`
	IsPublic bool        `json:"isPublic"`
}

// CreateBoard creates a board owned by the caller.
func (a *API) CreateBoard(ctx context.Context, in model.NewBoard) (model.Board, error) {
	var out model.Board
	err := a.do(ctx, http.MethodPost, "/boards", boardBody(in), &out)
	return out, err
}

// Board returns the board view in display order.
func (a *API) Board(ctx context.Context, id uuid.UUID) (model.BoardView, error) {
	var out model.BoardView
	err := a.do(ctx, http.MethodGet, "/boards/"+id.String(), nil, &out)
	return out, err
}

type columnBody struct {
	Title string `json:"title"`
	Width int    `json:"width,omitempty"`
}

// CreateColumn appends a column to a board.
func (a *API) CreateColumn(ctx context.Context, boardID uuid.UUID, title string, width int) (model.Column, error) {
	var out model.Column
	err := a.do(ctx, http.MethodPost, "/boards/"+boardID.String()+"/columns", columnBody{title, width}, &out)
	return out, err
}

type columnPatchBody struct {
	Title *string `json:"title,omitempty"`
	Width *int    `json:"width,omitempty"`
	Order *int64  `json:"order,omitempty"`
}

// UpdateColumn patches a column; a non-nil order also moves it.
func (a *API) UpdateColumn(ctx context.Context, id string, p model.ColumnPatch, order *int64) error {
	if model.IsTempID(id) {
		return nil
	}
	return a.do(ctx, http.MethodPatch, "/columns/"+url.PathEscape(id), columnPatchBody{p.Title, p.Width, order}, nil)
}

// MoveColumn places a column at index among the board's other columns.
func (a *API) MoveColumn(ctx context.Context, id string, index int64) error {
	if model.IsTempID(id) {
		return nil
	}
	body := struct {
		Order int64 `json:"order"`
	}{index}
	return a.do(ctx, http.MethodPost, "/columns/"+url.PathEscape(id)+"/move", body, nil)
}

// DeleteColumn deletes a column with its cards.
func (a *API) DeleteColumn(ctx context.Context, id string) error {
	if model.IsTempID(id) {
		return nil
	}
	return a.do(ctx, http.MethodDelete, "/columns/"+url.PathEscape(id), nil, nil)
}

type cardBody struct {
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Priority    model.Priority `json:"priority,omitempty"`
	DueDate     *time.Time     `json:"dueDate,omitempty"`
	Weight      *int           `json:"weight,omitempty"`
}

// CreateCard appends a card to a column.
func (a *API) CreateCard(ctx context.Context, in model.NewCard) (model.Card, error) {
	var out model.Card
	body := cardBody{in.Title, in.Description, in.Priority, in.DueDate, in.Weight}
	err := a.do(ctx, http.MethodPost, "/columns/"+in.ColumnID.String()+"/cards", body, &out)
	return out, err
}

type cardPatchBody struct {
	Title             *string                   `json:"title,omitempty"`
	Description       *string                   `json:"description,omitempty"`
	Priority          *model.Priority           `json:"priority,omitempty"`
	DueDate           model.Optional[time.Time] `json:"dueDate,omitzero"`
	Weight            model.Optional[int]       `json:"weight,omitzero"`
	LabelIDsToAdd     []uuid.UUID               `json:"labelIdsToAdd,omitempty"`
	LabelIDsToRemove  []uuid.UUID               `json:"labelIdsToRemove,omitempty"`
	AssigneesToAdd    []uuid.UUID               `json:"assigneeIdsToAdd,omitempty"`
	AssigneesToRemove []uuid.UUID               `json:"assigneeIdsToRemove,omitempty"`
}

// UpdateCard applies a partial update. Unset optionals are left out of the body.
func (a *API) UpdateCard(ctx context.Context, id string, p model.CardPatch) error {
	if model.IsTempID(id) {
		return nil
	}
	return a.do(ctx, http.MethodPatch, "/cards/"+url.PathEscape(id), cardPatchBody(p), nil)
}

// MoveCard places a card at an index in the target column.
func (a *API) MoveCard(ctx context.Context, id string, m model.MoveCard) error {
	if model.IsTempID(id) || model.IsTempID(m.TargetColumnID) {
		return nil
	}
	body := struct {
		TargetColumnID string `json:"targetColumnId"`
		Order          int64  `json:"order"`
	}{m.TargetColumnID, m.Order}
	return a.do(ctx, http.MethodPost, "/cards/"+url.PathEscape(id)+"/move", body, nil)
}

// DeleteCard deletes a card.
func (a *API) DeleteCard(ctx context.Context, id string) error {
	if model.IsTempID(id) {
		return nil
	}
	return a.do(ctx, http.MethodDelete, "/cards/"+url.PathEscape(id), nil, nil)
}

// Activity returns the newest activity entries of a card.
func (a *API) Activity(ctx context.Context, cardID uuid.UUID, limit int) ([]model.ActivityEntry, error) {
	path := "/cards/" + cardID.String() + "/activity"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out []model.ActivityEntry
	err := a.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// Comment adds a comment to a card.
func (a *API) Comment(ctx context.Context, cardID uuid.UUID, body string) (model.Comment, error) {
	var out model.Comment
	in := struct {
		Body string `json:"body"`
	}{body}
	err := a.do(ctx, http.MethodPost, "/cards/"+cardID.String()+"/comments", in, &out)
	return out, err
}

type errorBody struct {
	Error  string       `json:"error"`
	Code   string       `json:"code"`
	Issues []errs.Issue `json:"issues"`
}

// do sends a JSON request and decodes a 2xx answer into out. Error answers are
// turned back into *errs.Error using the body code.
func (a *API) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.base.String()+path, body)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if tok := a.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := a.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var eb errorBody
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&eb); err != nil || eb.Code == "" {
		return &errs.Error{
			Kind:    kindFromStatus(resp.StatusCode),
			Message: fmt.Sprintf("unexpected status %d", resp.StatusCode),
		}
	}
	return &errs.Error{Kind: errs.KindFromCode(eb.Code), Message: eb.Error, Issues: eb.Issues}
}

func kindFromStatus(status int) errs.Kind {
	switch status {
	case http.StatusBadRequest:
		return errs.KindValidation
	case http.StatusUnauthorized:
		return errs.KindUnauthorized
	case http.StatusForbidden:
		return errs.KindForbidden
	case http.StatusNotFound:
		return errs.KindNotFound
	case http.StatusTooManyRequests:
		return errs.KindRateLimited
	default:
		return errs.KindInternal
	}
}
