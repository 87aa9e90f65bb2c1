package graphql

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/getmockd/gqlws/pkg/logging"
	"github.com/getmockd/gqlws/pkg/metrics"
)

// MaxRequestBodySize is the maximum allowed request body size (1MB).
const MaxRequestBodySize = 1 << 20 // 1MB

// CodeSubscriptionOverHTTP is the error code returned when a subscription is
// sent as a plain HTTP request.
const CodeSubscriptionOverHTTP = "SUBSCRIPTION_REQUIRES_WEBSOCKET"

// Handler handles GraphQL queries and mutations over HTTP. Subscriptions are
// served by the WebSocket transport on the same path.
type Handler struct {
	executor *Executor
	config   *GraphQLConfig
	log      *slog.Logger
}

// NewHandler creates a new GraphQL HTTP handler.
func NewHandler(executor *Executor, config *GraphQLConfig) *Handler {
	return &Handler{
		executor: executor,
		config:   config,
		log:      logging.Nop(),
	}
}

// SetLogger sets the handler's logger.
func (h *Handler) SetLogger(log *slog.Logger) {
	if log != nil {
		h.log = log
	}
}

// Executor returns the executor requests are run against.
func (h *Handler) Executor() *Executor {
	return h.executor
}

// Pattern returns the URL pattern this handler serves.
func (h *Handler) Pattern() string {
	if h.config == nil || h.config.Path == "" {
		return "/graphql"
	}
	return h.config.Path
}

// ServeHTTP handles GET and POST GraphQL requests.
// POST supports both application/json and application/graphql content types.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := http.StatusOK
	defer func() {
		metrics.ObserveRequest(r.Method, h.Pattern(), status, time.Since(start))
	}()

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		status = http.StatusMethodNotAllowed
		writeError(w, status, GraphQLError{Message: "method not allowed"})
		return
	}

	var req *GraphQLRequest
	var err error
	if r.Method == http.MethodGet {
		req, err = parseGetRequest(r)
	} else {
		req, err = parsePostRequest(r)
	}
	if err != nil {
		status = http.StatusBadRequest
		writeError(w, status, NewError(err.Error(), CodeBadUserInput))
		return
	}

	resp := h.executor.Execute(r.Context(), req)
	if _, ok := resp.Data.(Publisher); ok {
		status = http.StatusBadRequest
		writeError(w, status, NewError("subscriptions require a WebSocket connection", CodeSubscriptionOverHTTP))
		return
	}

	writeResponse(w, resp)
	h.log.Debug("graphql request",
		"method", r.Method,
		"operationName", req.OperationName,
		"errors", len(resp.Errors),
		"duration", time.Since(start),
	)
}

// parseGetRequest parses a GraphQL request from GET query parameters.
func parseGetRequest(r *http.Request) (*GraphQLRequest, error) {
	query := r.URL.Query()

	req := &GraphQLRequest{
		Query:         query.Get("query"),
		OperationName: query.Get("operationName"),
	}

	if varsStr := query.Get("variables"); varsStr != "" {
		var variables map[string]interface{}
		if err := json.Unmarshal([]byte(varsStr), &variables); err != nil {
			return nil, errors.New("invalid variables JSON")
		}
		req.Variables = variables
	}

	return req, nil
}

// parsePostRequest parses a GraphQL request from a POST body.
func parsePostRequest(r *http.Request) (*GraphQLRequest, error) {
	defer func() { _ = r.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize))
	if err != nil {
		return nil, errors.New("failed to read request body")
	}
	if len(body) == 0 {
		return nil, errors.New("empty request body")
	}

	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/graphql") {
		return &GraphQLRequest{Query: string(body)}, nil
	}

	var req GraphQLRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, errors.New("invalid JSON request body")
	}
	return &req, nil
}

func writeError(w http.ResponseWriter, statusCode int, gqlErr GraphQLError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(&GraphQLResponse{Errors: []GraphQLError{gqlErr}})
}

func writeResponse(w http.ResponseWriter, resp *GraphQLResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// Endpoint creates a complete GraphQL endpoint from a configuration.
// It parses the schema, checks the configuration against it and builds the
// executor and handler.
func Endpoint(config *GraphQLConfig) (*Handler, error) {
	schema, err := LoadSchema(config)
	if err != nil {
		return nil, err
	}
	if err := schema.CheckConfig(config); err != nil {
		return nil, err
	}
	return NewHandler(NewExecutor(schema, config), config), nil
}
