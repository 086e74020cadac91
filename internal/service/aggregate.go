package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/go-kit/log"
	"golang.org/x/sync/errgroup"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/atlekbai/query_aggregate/internal/query"
	"github.com/atlekbai/query_aggregate/internal/schema"
)

const (
	ServiceName        = "aggregate.v1.AggregateService"
	RenderProcedure    = "/" + ServiceName + "/Render"
	AggregateProcedure = "/" + ServiceName + "/Aggregate"
)

// defaultAlias is used when a request does not name a table alias.
const defaultAlias = "t"

// AggregateService renders aggregate fragments and runs them against the database.
// Messages are plain structpb.Struct values:
//
//	{"table": "wp_orders", "alias": "t", "function": "SUM", "fields": ["price", "tax"],
//	 "operator": "+", "group_by": ["user_id"], "filters": {"status": "eq.completed"}, "limit": 10}
type AggregateService struct {
	db     *sql.DB
	cache  *schema.Cache
	strict bool
	logger log.Logger
}

func NewAggregateService(db *sql.DB, cache *schema.Cache, strictFields bool, logger log.Logger) *AggregateService {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &AggregateService{db: db, cache: cache, strict: strictFields, logger: logger}
}

func (s *AggregateService) RegisterHandler(interceptors ...connect.Interceptor) (string, http.Handler) {
	opts := connect.WithInterceptors(interceptors...)
	mux := http.NewServeMux()
	mux.Handle(RenderProcedure, connect.NewUnaryHandler(RenderProcedure, s.Render, opts))
	mux.Handle(AggregateProcedure, connect.NewUnaryHandler(AggregateProcedure, s.Aggregate, opts))
	return "/" + ServiceName + "/", mux
}

// request is a decoded Render/Aggregate message.
type request struct {
	table *schema.TableDef
	alias string
	agg   *query.Aggregate
	qc    *query.Context
}

func (s *AggregateService) decode(msg *structpb.Struct) (*request, error) {
	bag := msg.AsMap()

	tableName, _ := bag["table"].(string)
	table := s.cache.Get(tableName)
	if table == nil {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("no table registered with name %q", tableName))
	}

	alias, _ := bag["alias"].(string)
	if alias == "" {
		alias = defaultAlias
	}

	opts := query.ParseOptions(bag)
	opts.StrictFields = opts.StrictFields || s.strict
	opts.Logger = log.With(s.logger, "table", tableName)

	in := query.ParamsInput{
		GroupBy: stringList(bag["group_by"]),
		Filters: make(map[string]string),
	}
	if filters, ok := bag["filters"].(map[string]any); ok {
		for col, v := range filters {
			str, ok := v.(string)
			if !ok {
				return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("filter %q: expected op.value string", col))
			}
			in.Filters[col] = str
		}
	}
	if limit, ok := bag["limit"].(float64); ok {
		in.Limit = int(limit)
	}

	qc, err := query.ParseParams(table, in)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	agg := query.NewAggregate(opts)
	if !agg.SupportsDialect(table.Dialect) {
		return nil, connect.NewError(connect.CodeFailedPrecondition,
			fmt.Errorf("%s is not available on %s table %q", agg.Function(), table.Dialect, tableName))
	}

	return &request{
		table: table,
		alias: alias,
		agg:   agg,
		qc:    qc,
	}, nil
}

func (r *request) render() (*query.Fragment, error) {
	frag, err := r.agg.Render(r.table.Name, r.alias, r.table.PrimaryKey, r.qc)
	if errors.Is(err, query.ErrNotReady) {
		return nil, connect.NewError(connect.CodeFailedPrecondition, err)
	}
	return frag, err
}

func (s *AggregateService) Render(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	r, err := s.decode(req.Msg)
	if err != nil {
		return nil, err
	}
	frag, err := r.render()
	if err != nil {
		return nil, err
	}
	sqlStr, args, err := query.NewBuilder(r.qc, r.alias).BuildAggregate(frag)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}

	out := fragmentMap(frag)
	out["sql"] = sqlStr
	out["args"] = argList(args)
	return newResponse(out)
}

func (s *AggregateService) Aggregate(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	r, err := s.decode(req.Msg)
	if err != nil {
		return nil, err
	}
	frag, err := r.render()
	if err != nil {
		return nil, err
	}
	builder := query.NewBuilder(r.qc, r.alias)

	g, gctx := errgroup.WithContext(ctx)

	var matched int64
	g.Go(func() error {
		sqlStr, args, err := builder.BuildCount()
		if err != nil {
			return err
		}
		return s.db.QueryRowContext(gctx, sqlStr, args...).Scan(&matched)
	})

	var rows []any
	g.Go(func() error {
		sqlStr, args, err := builder.BuildAggregate(frag)
		if err != nil {
			return err
		}
		dbRows, err := s.db.QueryContext(gctx, sqlStr, args...)
		if err != nil {
			return err
		}
		defer dbRows.Close()
		rows, err = scanRows(dbRows)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, connect.NewError(connect.CodeInternal, fmt.Errorf("aggregate %s: %w", r.table.Name, err))
	}

	out := fragmentMap(frag)
	out["rows"] = rows
	out["matched"] = matched
	return newResponse(out)
}

func newResponse(m map[string]any) (*connect.Response[structpb.Struct], error) {
	msg, err := structpb.NewStruct(m)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}

func fragmentMap(frag *query.Fragment) map[string]any {
	return map[string]any{
		"select":   frag.Select,
		"join":     frag.Join,
		"where":    frag.Where,
		"fields":   anyList(frag.Fields),
		"group_by": anyList(frag.GroupBy),
	}
}

// scanRows reads every row into a column -> value map.
func scanRows(rows *sql.Rows) ([]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns: %w", err)
	}

	out := []any{}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = jsonValue(values[i])
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// jsonValue converts a driver value into something structpb can hold.
func jsonValue(v any) any {
	switch v := v.(type) {
	case []byte:
		return string(v)
	case time.Time:
		return v.Format(time.RFC3339Nano)
	case int64, float64, bool, string, nil:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// argList converts bind values for the response. Array binds become lists.
func argList(args []any) []any {
	out := make([]any, 0, len(args))
	for _, a := range args {
		switch a := a.(type) {
		case []int64:
			list := make([]any, len(a))
			for i, v := range a {
				list[i] = v
			}
			out = append(out, list)
		case []float64:
			list := make([]any, len(a))
			for i, v := range a {
				list[i] = v
			}
			out = append(out, list)
		case []string:
			out = append(out, anyList(a))
		default:
			out = append(out, jsonValue(a))
		}
	}
	return out
}

func stringList(v any) []string {
	switch v := v.(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []any:
		var out []string
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func anyList(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
