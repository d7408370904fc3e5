package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/erp/datacore/internal/application/dataaccess"
	"github.com/erp/datacore/internal/domain/shared"
	"github.com/erp/datacore/internal/interfaces/http/dto"
	"github.com/erp/datacore/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
)

// QueryService runs tenant collection reads
type QueryService interface {
	Query(ctx context.Context, req dataaccess.QueryRequest) (*dataaccess.QueryResult, error)
}

// CollectionHandler exposes tenant collections over HTTP
type CollectionHandler struct {
	BaseHandler
	svc QueryService
}

// NewCollectionHandler creates a new CollectionHandler
func NewCollectionHandler(svc QueryService) *CollectionHandler {
	return &CollectionHandler{svc: svc}
}

// RegisterRoutes registers the collection routes under rg
func (h *CollectionHandler) RegisterRoutes(rg *gin.RouterGroup) {
	collections := rg.Group("/collections")
	collections.POST("/:name/query", h.Query)
	collections.GET("/:name", h.List)
}

// Query runs the filter in the JSON body against a collection of the
// request tenant.
//
//	POST /api/v1/collections/:name/query
//	{"filter": {...}, "sort": "nombre,-saldo", "limit": 50, "offset": 0, "with_total": true}
func (h *CollectionHandler) Query(c *gin.Context) {
	var req dto.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		h.bindError(c, err)
		return
	}

	raw, err := decodeFilter(req.Filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.run(c, raw, req.Sort, req.Limit, req.Offset, req.WithTotal)
}

// List is the query-string form of Query, with the filter as URL-encoded JSON.
//
//	GET /api/v1/collections/:name?filter={...}&sort=-saldo&limit=10
func (h *CollectionHandler) List(c *gin.Context) {
	var q dto.ListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.bindError(c, err)
		return
	}

	raw, err := decodeFilter([]byte(q.Filter))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.run(c, raw, dto.SortFromQuery(q.Sort), q.Limit, q.Offset, q.WithTotal)
}

func (h *CollectionHandler) run(c *gin.Context, raw any, sort dto.SortSpec, limit, offset int, withTotal bool) {
	fields, err := sort.Fields()
	if err != nil {
		h.HandleError(c, err)
		return
	}

	res, err := h.svc.Query(c.Request.Context(), dataaccess.QueryRequest{
		TenantID:   middleware.GetTenantID(c),
		Collection: c.Param("name"),
		Filter:     raw,
		Sort:       fields,
		Limit:      limit,
		Offset:     offset,
		WithTotal:  withTotal,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}

	items := res.Items
	if items == nil {
		items = []map[string]any{}
	}
	h.Success(c, dto.QueryResponse{
		Items:  items,
		Total:  res.Total,
		Limit:  res.Limit,
		Offset: res.Offset,
	})
}

// decodeFilter decodes a JSON filter keeping numbers exact. Empty input and
// null mean no filter.
func decodeFilter(data []byte) (any, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, shared.ErrParse.WithMessage("filter is not valid JSON").Wrap(err)
	}
	return raw, nil
}
