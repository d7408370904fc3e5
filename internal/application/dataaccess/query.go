package dataaccess

import (
	"context"
	"time"

	"github.com/erp/datacore/internal/domain/filter"
	"github.com/erp/datacore/internal/domain/shared"
	"github.com/erp/datacore/internal/infrastructure/logger"
	"github.com/erp/datacore/internal/infrastructure/persistence/dynamic"
	"github.com/erp/datacore/internal/infrastructure/telemetry"
	"github.com/erp/datacore/internal/infrastructure/tenancy"
	"go.uber.org/zap"
)

// QueryRequest is one read against a tenant collection
type QueryRequest struct {
	TenantID   string
	Collection string
	Filter     any // decoded JSON filter, nil for none
	Sort       []dynamic.SortField
	Limit      int
	Offset     int
	WithTotal  bool
}

// QueryResult is a page of documents
type QueryResult struct {
	Items  []map[string]any `json:"items"`
	Total  *int64           `json:"total,omitempty"`
	Limit  int              `json:"limit"`
	Offset int              `json:"offset"`
}

// Query runs the whole per-request flow: parse, scope, borrow, bind, find.
// The filter is parsed before any connection is borrowed, so malformed input
// never costs a dial.
func (s *Service) Query(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "dataaccess.query",
		telemetry.WithAttribute("tenant_id", req.TenantID),
		telemetry.WithAttribute("collection", req.Collection),
	)
	defer span.End()

	var (
		result *QueryResult
		err    error
	)
	telemetry.WithProfilingLabels(ctx, map[string]string{
		telemetry.ProfilingLabelTenantID:   req.TenantID,
		telemetry.ProfilingLabelCollection: req.Collection,
		telemetry.ProfilingLabelOperation:  "query",
	}, func(ctx context.Context) {
		result, err = s.query(ctx, req)
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	telemetry.SetAttribute(span, "rows", len(result.Items))
	return result, nil
}

func (s *Service) query(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	if err := dynamic.ValidateCollectionName(req.Collection); err != nil {
		return nil, err
	}
	if ctxTenant := logger.TenantID(ctx); ctxTenant == "" {
		ctx = logger.WithTenantID(ctx, req.TenantID)
	} else if ctxTenant != req.TenantID {
		return nil, shared.ErrInvalidInput.WithMessage("request tenant does not match authenticated tenant").
			WithDetail("tenant_id", req.TenantID)
	}

	expr, err := s.ParseFilter(req.Filter)
	if err != nil {
		return nil, err
	}
	scope, err := s.ScopeFromContext(ctx, req.Collection)
	if err != nil {
		return nil, err
	}
	pred, err := s.BuildQuery(expr, scope)
	if err != nil {
		return nil, err
	}

	opts := dynamic.FindOptions{Sort: req.Sort, Limit: req.Limit, Offset: req.Offset}
	start := time.Now()

	var result *QueryResult
	err = s.WithTenantConnection(ctx, req.TenantID, func(ctx context.Context, conn *tenancy.ScopedConnection) error {
		coll, err := s.BindCollection(conn, req.Collection, nil)
		if err != nil {
			return err
		}
		items, err := coll.Find(ctx, pred, opts)
		if err != nil {
			return err
		}
		result = &QueryResult{Items: items, Limit: effectiveLimit(req.Limit), Offset: max(req.Offset, 0)}

		if req.WithTotal {
			n, err := coll.Count(ctx, pred)
			if err != nil {
				return err
			}
			result.Total = &n
		}
		return nil
	})
	if err != nil {
		logger.Enrich(ctx, s.logger).Debug("Tenant query failed",
			zap.String("collection", req.Collection),
			zap.String("code", shared.CodeOf(err)),
			zap.Error(err),
		)
		return nil, err
	}

	logger.Enrich(ctx, s.logger).Debug("Tenant query",
		zap.String("collection", req.Collection),
		zap.Int("clauses", clauseCount(expr)),
		zap.Int("rows", len(result.Items)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return result, nil
}

func effectiveLimit(limit int) int {
	switch {
	case limit <= 0:
		return dynamic.DefaultLimit
	case limit > dynamic.MaxLimit:
		return dynamic.MaxLimit
	}
	return limit
}

func clauseCount(expr *filter.Expression) int {
	if expr == nil {
		return 0
	}
	return expr.ClauseCount()
}
