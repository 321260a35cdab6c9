package session

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/teslashibe/go-murmur/internal/httpc"
)

// REST persists categories through the murmurd /api/categories endpoints.
type REST struct {
	baseURL string
	client  *http.Client
}

// NewREST creates a persister for the server at baseURL (http://host:port).
func NewREST(baseURL string, client *http.Client) *REST {
	if client == nil {
		client = httpc.Client
	}
	return &REST{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// categoryPatch is the PATCH body; only metadata is sent.
type categoryPatch struct {
	Name           string `json:"name"`
	Order          int    `json:"order"`
	ActiveProvider string `json:"activeProvider"`
	DirectoryPath  string `json:"directoryPath"`
	ProjectContext string `json:"projectContext"`
}

func (r *REST) categoryURL(id string) string {
	return r.baseURL + "/api/categories/" + url.PathEscape(id)
}

// List fetches every category with its messages.
func (r *REST) List(ctx context.Context) ([]Category, error) {
	var cats []Category
	err := httpc.DoJSON(ctx, r.client, http.MethodGet, r.baseURL+"/api/categories", nil, &cats)
	return cats, err
}

// CreateCategory stores a new category.
func (r *REST) CreateCategory(ctx context.Context, c Category) error {
	c.Messages = nil
	return httpc.DoJSON(ctx, r.client, http.MethodPost, r.baseURL+"/api/categories", c, nil)
}

// UpdateCategory saves category metadata.
func (r *REST) UpdateCategory(ctx context.Context, c Category) error {
	patch := categoryPatch{
		Name:           c.Name,
		Order:          c.Order,
		ActiveProvider: string(c.ActiveProvider),
		DirectoryPath:  c.DirectoryPath,
		ProjectContext: c.ProjectContext,
	}
	return httpc.DoJSON(ctx, r.client, http.MethodPatch, r.categoryURL(c.ID), patch, nil)
}

// DeleteCategory removes a category and its messages.
func (r *REST) DeleteCategory(ctx context.Context, id string) error {
	return httpc.DoJSON(ctx, r.client, http.MethodDelete, r.categoryURL(id), nil, nil)
}

// SaveMessage creates or replaces a message.
func (r *REST) SaveMessage(ctx context.Context, categoryID string, m Message) error {
	return httpc.DoJSON(ctx, r.client, http.MethodPost, r.categoryURL(categoryID)+"/messages", m, nil)
}

// DeleteMessage removes one message.
func (r *REST) DeleteMessage(ctx context.Context, categoryID, messageID string) error {
	return httpc.DoJSON(ctx, r.client, http.MethodDelete,
		r.categoryURL(categoryID)+"/messages/"+url.PathEscape(messageID), nil, nil)
}

var _ Persister = (*REST)(nil)
