package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/marketlens/marketagent/core"
	"github.com/marketlens/marketagent/internal/util"
	"github.com/marketlens/marketagent/logging"
	"github.com/marketlens/marketagent/toolcache"
)

const (
	// DefaultTTL applies to tools without an explicit TTL class.
	DefaultTTL = 5 * time.Minute
	// DefaultCallTimeout bounds a single live tool invocation.
	DefaultCallTimeout = 60 * time.Second
	// DefaultMaxParallel bounds concurrent live calls within one batch.
	DefaultMaxParallel = 4
)

// Options configures an Executor.
type Options struct {
	// DefaultTTL is the cache lifetime for tools without a TTL class.
	DefaultTTL time.Duration
	// TTLs maps tool names to their TTL class. An explicit zero disables
	// caching for that tool entirely.
	TTLs map[string]time.Duration
	// CallTimeout bounds each live tool invocation.
	CallTimeout time.Duration
	// MaxParallel bounds concurrent invocations within one batch.
	MaxParallel int
	// Logger receives execution telemetry. Defaults to NoOpLogger.
	Logger logging.Logger
}

// Executor resolves tool calls through an ordered chain of resolution
// layers: caller-supplied context, server cache, live invocation. Execute
// never returns an error; all failure is encoded in the ToolResult so the
// model can react to it.
type Executor struct {
	registry  *Registry
	cache     *toolcache.Cache
	resolvers []resolver
	opts      Options
}

// NewExecutor constructs an executor over the given registry and cache.
func NewExecutor(registry *Registry, cache *toolcache.Cache, optFns ...func(o *Options)) *Executor {
	opts := Options{
		DefaultTTL:  DefaultTTL,
		CallTimeout: DefaultCallTimeout,
		MaxParallel: DefaultMaxParallel,
		Logger:      logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = DefaultTTL
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = DefaultMaxParallel
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	e := &Executor{registry: registry, cache: cache, opts: opts}
	// Resolution order is load-bearing: context shadows cache shadows live.
	e.resolvers = []resolver{
		contextResolver{},
		cacheResolver{cache: cache},
		liveResolver{executor: e},
	}
	return e
}

// invocation carries one resolved call through the resolver chain.
type invocation struct {
	tool      Tool
	name      string
	args      map[string]any // canonicalized
	key       string
	callerCtx *CallerContext
}

// resolver is one resolution layer. A layer reports (value, hit, error);
// the chain short-circuits on the first hit or error. Adding another tier
// (e.g. a distributed cache) means inserting a new resolver, not new
// branching.
type resolver interface {
	source() core.Source
	resolve(ctx context.Context, inv *invocation) (any, bool, error)
}

// contextResolver serves values the caller pre-fetched for this request.
type contextResolver struct{}

func (contextResolver) source() core.Source { return core.SourceContext }

func (contextResolver) resolve(_ context.Context, inv *invocation) (any, bool, error) {
	v, ok := inv.callerCtx.lookup(inv.key)
	return v, ok, nil
}

// cacheResolver serves unexpired entries from the server-side tool cache.
type cacheResolver struct{ cache *toolcache.Cache }

func (cacheResolver) source() core.Source { return core.SourceCache }

func (r cacheResolver) resolve(_ context.Context, inv *invocation) (any, bool, error) {
	v, ok := r.cache.Get(inv.key)
	return v, ok, nil
}

// liveResolver invokes the registered tool function and populates the cache
// on success. Failures are never cached.
type liveResolver struct{ executor *Executor }

func (liveResolver) source() core.Source { return core.SourceLive }

func (r liveResolver) resolve(ctx context.Context, inv *invocation) (any, bool, error) {
	e := r.executor
	callCtx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
	defer cancel()

	var (
		result any
		err    error
	)
	func() { // panic safety
		defer func() {
			if rec := recover(); rec != nil {
				err = NewToolError(inv.name, fmt.Sprintf("panic: %v", rec), CodeExecution)
				e.opts.Logger.Error("tool.call.panic", "tool", inv.name, "recover", rec, "stack", string(debug.Stack()))
			}
		}()
		result, err = inv.tool.Call(callCtx, inv.args)
	}()
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return nil, false, NewToolError(inv.name, "invocation timed out", CodeTimeout)
		}
		return nil, false, err
	}

	if ttl := e.ttlFor(inv.name); ttl > 0 {
		e.cache.Set(inv.key, result, ttl)
	}
	return result, true, nil
}

// ttlFor returns the TTL class for a tool. An explicit zero entry disables
// caching.
func (e *Executor) ttlFor(name string) time.Duration {
	if ttl, ok := e.opts.TTLs[name]; ok {
		return ttl
	}
	return e.opts.DefaultTTL
}

// Execute resolves a single tool call. It never returns an error: unknown
// tools, invalid arguments, timeouts and execution failures all come back
// as a failed ToolResult carrying the reason.
func (e *Executor) Execute(ctx context.Context, name string, args map[string]any, callerCtx *CallerContext) core.ToolResult {
	impl, ok := e.registry.Get(name)
	if !ok {
		return core.FailureResult(NewToolError(name, "unknown tool", CodeUnknownTool).Error())
	}

	canonical := toolcache.CanonicalArgs(args)

	// Invalid arguments are rejected before any resolution layer runs;
	// they must never reach the cache or the live function.
	if err := util.ValidateParameters(canonical, impl.Parameters()); err != nil {
		e.opts.Logger.Warn("tool.call.validation_failed", "tool", name, "error", err.Error())
		return core.FailureResult(NewToolError(name, fmt.Sprintf("parameter validation failed: %v", err), CodeValidation).Error())
	}

	inv := &invocation{
		tool:      impl,
		name:      name,
		args:      canonical,
		key:       toolcache.Key(name, canonical),
		callerCtx: callerCtx,
	}

	start := time.Now()
	for _, r := range e.resolvers {
		value, hit, err := r.resolve(ctx, inv)
		if err != nil {
			e.opts.Logger.Error("tool.call.error", "tool", name, "layer", string(r.source()), "error", err.Error())
			return core.FailureResult(err.Error())
		}
		if hit {
			e.opts.Logger.Info("tool.call.resolved",
				"tool", name,
				"source", string(r.source()),
				"duration_ms", time.Since(start).Milliseconds(),
			)
			return core.SuccessResult(value, r.source())
		}
	}

	// The live layer is terminal (hit or error), so the chain cannot fall
	// through.
	return core.FailureResult(NewToolError(name, "no resolution layer produced a result", CodeExecution).Error())
}

// ExecuteCall resolves a model-issued FunctionCall, decoding its JSON
// argument payload first.
func (e *Executor) ExecuteCall(ctx context.Context, fc core.FunctionCall, callerCtx *CallerContext) core.ToolResult {
	args, err := decodeArgs(fc.Arguments)
	if err != nil {
		return core.FailureResult(NewToolError(fc.Name, fmt.Sprintf("malformed arguments: %v", err), CodeValidation).Error())
	}
	return e.Execute(ctx, fc.Name, args, callerCtx)
}

// ExecuteBatch resolves several calls requested by one model response.
// Calls are dispatched concurrently (bounded by MaxParallel) but results
// are returned in call order, matching the order the model expects
// responses in.
func (e *Executor) ExecuteBatch(ctx context.Context, calls []core.FunctionCall, callerCtx *CallerContext) []core.ToolResult {
	results := make([]core.ToolResult, len(calls))
	if len(calls) == 0 {
		return results
	}
	if len(calls) == 1 {
		results[0] = e.ExecuteCall(ctx, calls[0], callerCtx)
		return results
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.MaxParallel)
	for i, fc := range calls {
		g.Go(func() error {
			results[i] = e.ExecuteCall(gctx, fc, callerCtx)
			return nil
		})
	}
	_ = g.Wait() // workers never return errors; failures live in results
	return results
}

// decodeArgs unmarshals a JSON argument payload; empty means no arguments.
func decodeArgs(raw string) (map[string]any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	return args, nil
}
