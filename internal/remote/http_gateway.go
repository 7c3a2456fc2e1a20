package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	apperrors "github.com/radclaudiu/ProductivaWorking-sub000/internal/errors"
	"github.com/radclaudiu/ProductivaWorking-sub000/internal/models"
)

// HTTPGateway is the REST gateway for one entity resource.
type HTTPGateway[T any, P models.Entity[T]] struct {
	client   *Client
	resource string
}

// NewHTTPGateway creates a gateway for T. The resource path is the entity table name.
func NewHTTPGateway[T any, P models.Entity[T]](c *Client) *HTTPGateway[T, P] {
	var zero T
	return &HTTPGateway[T, P]{client: c, resource: P(&zero).TableName()}
}

// Resource returns the resource path segment, e.g. "tasks".
func (g *HTTPGateway[T, P]) Resource() string {
	return g.resource
}

func (g *HTTPGateway[T, P]) itemPath(id int64) string {
	return "/" + g.resource + "/" + strconv.FormatInt(id, 10)
}

// Create posts a new record. The local id is sent as the idempotency key so a retried
// create is recognised by the server.
func (g *HTTPGateway[T, P]) Create(ctx context.Context, rec *T) (*T, error) {
	req := request{method: http.MethodPost, path: "/" + g.resource, body: rec}
	if localID := P(rec).Meta().LocalID; localID != "" {
		req.headers = map[string]string{"Idempotency-Key": localID}
	}
	return g.one(ctx, req)
}

// Update replaces the server copy of id.
func (g *HTTPGateway[T, P]) Update(ctx context.Context, id int64, rec *T) (*T, error) {
	if id <= 0 {
		return nil, apperrors.New(apperrors.ErrInvalid, "update requires a server id")
	}
	return g.one(ctx, request{method: http.MethodPut, path: g.itemPath(id), body: rec})
}

// Delete removes id on the server. 404 counts as already deleted.
func (g *HTTPGateway[T, P]) Delete(ctx context.Context, id int64) error {
	if id <= 0 {
		return apperrors.New(apperrors.ErrInvalid, "delete requires a server id")
	}
	_, _, err := g.client.do(ctx, request{method: http.MethodDelete, path: g.itemPath(id)}, http.StatusNotFound)
	return err
}

// Fetch returns the server copy of id.
func (g *HTTPGateway[T, P]) Fetch(ctx context.Context, id int64) (*T, error) {
	return g.one(ctx, request{method: http.MethodGet, path: g.itemPath(id)})
}

// FetchAll lists the resource. A plain array response is a full snapshot and is
// returned as Added.
func (g *HTTPGateway[T, P]) FetchAll(ctx context.Context, f Filters) (*Diff[T], error) {
	query := url.Values{}
	for k, v := range f {
		query.Set(k, v)
	}
	req := request{method: http.MethodGet, path: "/" + g.resource, query: query}
	op := req.method + " " + req.path

	_, body, err := g.client.do(ctx, req)
	if err != nil {
		return nil, err
	}

	var diff Diff[T]
	if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 && trimmed[0] == '[' {
		if err := decode(op, body, &diff.Added); err != nil {
			return nil, err
		}
	} else if err := decode(op, body, &diff); err != nil {
		return nil, err
	}
	if err := g.checkDiff(op, &diff); err != nil {
		return nil, err
	}
	return &diff, nil
}

// SyncBatch sends local changes and returns the server's diff since p.LastSync.
func (g *HTTPGateway[T, P]) SyncBatch(ctx context.Context, p *BatchPayload[T]) (*Diff[T], error) {
	if p.Key == "" {
		p.Key = g.resource
	}
	if p.ScopeID == "" {
		p.ScopeID = g.client.scopeID
	}
	req := request{method: http.MethodPost, path: "/" + g.resource + "/sync", body: p}
	op := req.method + " " + req.path

	_, body, err := g.client.do(ctx, req)
	if err != nil {
		return nil, err
	}
	var diff Diff[T]
	if err := decode(op, body, &diff); err != nil {
		return nil, err
	}
	if err := g.checkDiff(op, &diff); err != nil {
		return nil, err
	}
	return &diff, nil
}

func (g *HTTPGateway[T, P]) one(ctx context.Context, req request) (*T, error) {
	op := req.method + " " + req.path
	_, body, err := g.client.do(ctx, req)
	if err != nil {
		return nil, err
	}
	var out T
	if err := decode(op, body, &out); err != nil {
		return nil, err
	}
	if P(&out).Meta().ID <= 0 {
		return nil, apperrors.New(apperrors.ErrMalformedResponse, op+": record without a server id")
	}
	return &out, nil
}

// checkDiff rejects records the server returned without an id; they could never be
// matched to a local row.
func (g *HTTPGateway[T, P]) checkDiff(op string, d *Diff[T]) error {
	for _, recs := range [][]*T{d.Added, d.Updated} {
		for i, rec := range recs {
			if rec == nil || P(rec).Meta().ID <= 0 {
				return apperrors.New(apperrors.ErrMalformedResponse,
					fmt.Sprintf("%s: %s record %d without a server id", op, g.resource, i))
			}
		}
	}
	return nil
}

var _ json.Marshaler = (*BatchPayload[models.Task])(nil)

// Ensure HTTPGateway implements Gateway at compile time.
var _ Gateway[models.Task] = (*HTTPGateway[models.Task, *models.Task])(nil)
