package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sawpanic/ragpatterns/internal/retrieval"
)

// HandlerConfig holds the server-level values that gate request validation
// and the per-request operation deadline (spec.md §4.I/§5).
type HandlerConfig struct {
	RequiredSymbolSuffix string
	OperationDeadline    time.Duration
}

// DefaultHandlerConfig matches spec.md §4.I/§5's documented defaults.
func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{RequiredSymbolSuffix: "USDT", OperationDeadline: 5 * time.Second}
}

// Handler dispatches one parsed JSON-RPC request to the retrieval engine.
// It knows exactly one method, "rag.query_patterns"; everything else is
// -32601.
type Handler struct {
	Engine *retrieval.Engine
	Config HandlerConfig
}

// handle validates req against the envelope rules and, for a well-formed
// rag.query_patterns call, runs the retrieval engine under the server's
// operation deadline. It never panics: any internal error becomes a JSON-RPC
// error response rather than propagating (spec.md §7 "errors never leak
// internal stack traces into the wire format").
func (h *Handler) handle(ctx context.Context, req request) response {
	if req.JSONRPC != "2.0" || req.Method == "" {
		return newError(idOrNull(req.ID), CodeInvalidRequest, "invalid request envelope", nil)
	}
	if req.ID == nil {
		// rag.query_patterns is documented as not a notification; an
		// omitted id is a protocol violation, not a silent no-reply
		// (spec.md §8 property 9).
		return newError(nullID, CodeInvalidRequest, "request id is required", nil)
	}

	switch req.Method {
	case "rag.query_patterns":
		return h.handleQueryPatterns(ctx, req)
	default:
		return newError(req.ID, CodeMethodNotFound, fmt.Sprintf("unknown method %q", req.Method), nil)
	}
}

func (h *Handler) handleQueryPatterns(ctx context.Context, req request) response {
	query, ferr := parseAndValidate(req.Params, h.Config.RequiredSymbolSuffix)
	if ferr != nil {
		return newError(req.ID, CodeInvalidParams, ferr.msg, map[string]string{"field": ferr.field})
	}

	deadline := h.Config.OperationDeadline
	if deadline <= 0 {
		deadline = DefaultHandlerConfig().OperationDeadline
	}
	opCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	result, err := h.Engine.Run(opCtx, query)
	if err != nil {
		return h.errorResponse(req.ID, err)
	}
	return newResult(req.ID, renderResult(result))
}

func (h *Handler) errorResponse(id json.RawMessage, err error) response {
	var insufficient *retrieval.ErrInsufficientMatches
	if errors.As(err, &insufficient) {
		return newError(id, CodeInsufficientMatches, "insufficient matches", map[string]interface{}{
			"matches_found": insufficient.Found,
			"min_required":  insufficient.Required,
			"suggestion":    "relax query_config filters or widen lookback_days",
		})
	}

	var symbolUnknown *retrieval.ErrSymbolUnknown
	if errors.As(err, &symbolUnknown) {
		return newError(id, CodeSymbolUnknown, fmt.Sprintf("no indexed points for symbol %s", symbolUnknown.Symbol), nil)
	}

	var embedErr *retrieval.ErrEmbedding
	if errors.As(err, &embedErr) {
		if errors.Is(embedErr.Err, context.DeadlineExceeded) {
			// The embedder pool's bounded queue (depth 64, spec.md §5) was
			// saturated long enough to trip the operation deadline — this
			// is the "overflow" case, reported as overload rather than a
			// model failure.
			return newError(id, CodeIndexError, "server overloaded", nil)
		}
		return newError(id, CodeEmbeddingError, "embedding model failure", nil)
	}

	var indexErr *retrieval.ErrIndex
	if errors.As(err, &indexErr) {
		return newError(id, CodeIndexError, "vector index failure", nil)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return newError(id, CodeIndexError, "operation deadline exceeded", nil)
	}

	// Unexpected internal error: the wire response never carries
	// err.Error() details beyond a generic message (spec.md §7 "no
	// internal stack traces").
	return newError(id, CodeIndexError, "internal error", nil)
}

func idOrNull(id json.RawMessage) json.RawMessage {
	if id == nil {
		return nullID
	}
	return id
}
