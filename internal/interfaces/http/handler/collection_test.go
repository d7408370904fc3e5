package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/erp/datacore/internal/application/dataaccess"
	"github.com/erp/datacore/internal/domain/shared"
	"github.com/erp/datacore/internal/infrastructure/persistence/dynamic"
	"github.com/erp/datacore/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type mockQueryService struct {
	mock.Mock
}

func (m *mockQueryService) Query(ctx context.Context, req dataaccess.QueryRequest) (*dataaccess.QueryResult, error) {
	args := m.Called(ctx, req)
	if r, ok := args.Get(0).(*dataaccess.QueryResult); ok {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

// collectionRouter mounts the handler behind a stub that sets the tenant the
// way TenantContext does.
func collectionRouter(svc QueryService) *gin.Engine {
	r := gin.New()
	api := r.Group("/api/v1", func(c *gin.Context) {
		c.Set("tenant_id", "acme")
		c.Next()
	})
	NewCollectionHandler(svc).RegisterRoutes(api)
	return r
}

func post(r *gin.Engine, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) dto.Response {
	t.Helper()
	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestCollectionHandler_Query(t *testing.T) {
	svc := new(mockQueryService)
	total := int64(7)
	svc.On("Query", mock.Anything, mock.MatchedBy(func(req dataaccess.QueryRequest) bool {
		clause, ok := req.Filter.(map[string]any)
		return req.TenantID == "acme" &&
			req.Collection == "clientes" &&
			ok && clause["value"] == json.Number("100.50") &&
			len(req.Sort) == 2 && req.Sort[1] == dynamic.SortField{Field: "saldo", Desc: true} &&
			req.Limit == 5 && req.Offset == 10 && req.WithTotal
	})).Return(&dataaccess.QueryResult{
		Items:  []map[string]any{{"nombre": "Ana"}},
		Total:  &total,
		Limit:  5,
		Offset: 10,
	}, nil).Once()

	w := post(collectionRouter(svc), "/api/v1/collections/clientes/query", `{
		"filter": {"field": "saldo", "op": "gt", "value": 100.50},
		"sort": ["nombre", "-saldo"],
		"limit": 5, "offset": 10, "with_total": true
	}`)

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.True(t, resp.Success)
	data := resp.Data.(map[string]any)
	assert.Equal(t, float64(7), data["total"])
	assert.Len(t, data["items"], 1)
	svc.AssertExpectations(t)
}

func TestCollectionHandler_QueryEmptyBody(t *testing.T) {
	svc := new(mockQueryService)
	svc.On("Query", mock.Anything, mock.MatchedBy(func(req dataaccess.QueryRequest) bool {
		return req.Filter == nil && req.Sort == nil
	})).Return(&dataaccess.QueryResult{Limit: dynamic.DefaultLimit}, nil).Once()

	w := post(collectionRouter(svc), "/api/v1/collections/clientes/query", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"items":[]`)
	svc.AssertExpectations(t)
}

func TestCollectionHandler_QueryErrors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		svcErr     error
		wantStatus int
		wantCode   string
	}{
		{"malformed body", `{"filter":`, nil, http.StatusBadRequest, dto.ErrCodeBadRequest},
		{"limit over max", `{"limit": 5000}`, nil, http.StatusBadRequest, dto.ErrCodeBadRequest},
		{"bad sort field", `{"sort": "nombre;--"}`, nil, http.StatusBadRequest, shared.CodeInvalidInput},
		{"parse error", `{"filter": {"field":"x","op":"between"}}`, shared.ErrParse, http.StatusBadRequest, shared.CodeParseError},
		{"depth exceeded", `{}`, shared.ErrDepthExceeded, http.StatusBadRequest, shared.CodeDepthExceeded},
		{"unknown tenant", `{}`, shared.ErrNotFound, http.StatusNotFound, shared.CodeNotFound},
		{"inactive tenant", `{}`, shared.ErrInactive, http.StatusForbidden, shared.CodeInactive},
		{"connection failed", `{}`, shared.ErrConnectionFailed, http.StatusServiceUnavailable, shared.CodeConnectionFailed},
		{"pool closed", `{}`, shared.ErrPoolClosed, http.StatusServiceUnavailable, shared.CodePoolClosed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(mockQueryService)
			if tt.svcErr != nil {
				svc.On("Query", mock.Anything, mock.Anything).Return(nil, tt.svcErr).Once()
			}

			w := post(collectionRouter(svc), "/api/v1/collections/clientes/query", tt.body)

			assert.Equal(t, tt.wantStatus, w.Code)
			resp := decode(t, w)
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
			svc.AssertExpectations(t)
		})
	}
}

func TestCollectionHandler_RetryAfterOnRetryableErrors(t *testing.T) {
	svc := new(mockQueryService)
	svc.On("Query", mock.Anything, mock.Anything).Return(nil, shared.ErrConnectionFailed).Once()

	w := post(collectionRouter(svc), "/api/v1/collections/clientes/query", `{}`)

	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.True(t, decode(t, w).Error.Retryable)
}

func TestCollectionHandler_List(t *testing.T) {
	svc := new(mockQueryService)
	svc.On("Query", mock.Anything, mock.MatchedBy(func(req dataaccess.QueryRequest) bool {
		clause, ok := req.Filter.(map[string]any)
		return ok && clause["field"] == "activo" &&
			len(req.Sort) == 1 && req.Sort[0].Desc &&
			req.Limit == 10
	})).Return(&dataaccess.QueryResult{Items: []map[string]any{}, Limit: 10}, nil).Once()

	q := url.Values{}
	q.Set("filter", `{"field":"activo","op":"eq","value":true}`)
	q.Set("sort", "-saldo")
	q.Set("limit", "10")
	w := httptest.NewRecorder()
	collectionRouter(svc).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/collections/clientes?"+q.Encode(), nil))

	assert.Equal(t, http.StatusOK, w.Code)
	svc.AssertExpectations(t)

	w = httptest.NewRecorder()
	collectionRouter(svc).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/collections/clientes?filter=%7Bnope", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, shared.CodeParseError, decode(t, w).Error.Code)
}

func TestDecodeFilter(t *testing.T) {
	for _, in := range []string{"", "  ", "null"} {
		raw, err := decodeFilter([]byte(in))
		require.NoError(t, err)
		assert.Nil(t, raw)
	}

	raw, err := decodeFilter([]byte(`[{"field":"saldo","op":"gt","value":12345678901234567890}]`))
	require.NoError(t, err)
	list := raw.([]any)
	assert.Equal(t, json.Number("12345678901234567890"), list[0].(map[string]any)["value"])
}
