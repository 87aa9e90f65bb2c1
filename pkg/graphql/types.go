package graphql

import "context"

// GraphQLConfig represents the GraphQL endpoint configuration.
type GraphQLConfig struct {
	// Path is the URL path where the endpoint (HTTP and WebSocket) is served.
	Path string `json:"path" yaml:"path"`
	// Schema is the inline GraphQL SDL schema definition.
	Schema string `json:"schema,omitempty" yaml:"schema,omitempty"`
	// SchemaFile is the path to a file containing the GraphQL SDL schema.
	SchemaFile string `json:"schemaFile,omitempty" yaml:"schemaFile,omitempty"`
	// Resolvers maps field paths (e.g., "Query.user") to their resolver configurations.
	Resolvers map[string]ResolverConfig `json:"resolvers,omitempty" yaml:"resolvers,omitempty"`
	// Subscriptions maps subscription field names to their stream configurations.
	Subscriptions map[string]SubscriptionConfig `json:"subscriptions,omitempty" yaml:"subscriptions,omitempty"`
}

// ResolverConfig configures how a GraphQL field is resolved.
type ResolverConfig struct {
	// Response is the data to return for this field.
	Response interface{} `json:"response,omitempty" yaml:"response,omitempty"`
	// Delay is the simulated latency before returning the response (e.g., "100ms", "2s").
	Delay string `json:"delay,omitempty" yaml:"delay,omitempty"`
	// Match specifies conditions that must be met for this resolver to be used.
	Match *ResolverMatch `json:"match,omitempty" yaml:"match,omitempty"`
	// Error configures an error response instead of data.
	Error *GraphQLErrorConfig `json:"error,omitempty" yaml:"error,omitempty"`
}

// ResolverMatch specifies matching conditions for a resolver.
type ResolverMatch struct {
	// Args specifies argument values that must match for this resolver to apply.
	Args map[string]interface{} `json:"args,omitempty" yaml:"args,omitempty"`
}

// GraphQLErrorConfig configures a GraphQL error response.
type GraphQLErrorConfig struct {
	Message    string                 `json:"message" yaml:"message"`
	Path       []string               `json:"path,omitempty" yaml:"path,omitempty"`
	Extensions map[string]interface{} `json:"extensions,omitempty" yaml:"extensions,omitempty"`
}

// GraphQLError represents a GraphQL error in the response format.
type GraphQLError struct {
	// Message is the error message.
	Message string `json:"message"`
	// Locations indicates where in the query the error occurred.
	Locations []GraphQLErrorLocation `json:"locations,omitempty"`
	// Path is the response field path where the error occurred.
	Path []interface{} `json:"path,omitempty"`
	// Extensions contains additional error metadata.
	Extensions map[string]interface{} `json:"extensions,omitempty"`
}

// GraphQLErrorLocation represents a location in the GraphQL query where an error occurred.
type GraphQLErrorLocation struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// GraphQLRequest represents an incoming GraphQL request.
type GraphQLRequest struct {
	// Query is the GraphQL query string.
	Query string `json:"query"`
	// OperationName is the name of the operation to execute (for multi-operation documents).
	OperationName string `json:"operationName,omitempty"`
	// Variables are the variable values for the query.
	Variables map[string]interface{} `json:"variables,omitempty"`
}

// GraphQLResponse represents a GraphQL execution result.
//
// For subscription operations Data holds a Publisher instead of a value.
type GraphQLResponse struct {
	Data       interface{}            `json:"data,omitempty"`
	Errors     []GraphQLError         `json:"errors,omitempty"`
	Extensions map[string]interface{} `json:"extensions,omitempty"`
}

// Publisher is the Data of a subscription result: a source of results that
// is consumed by calling Subscribe.
//
// Subscribe delivers items through yield until the source is exhausted
// (returns nil), fails (returns an error), ctx is done, or yield returns
// false. Implementations must observe ctx at every yield point.
type Publisher interface {
	Subscribe(ctx context.Context, yield func(*GraphQLResponse) bool) error
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(ctx context.Context, yield func(*GraphQLResponse) bool) error

// Subscribe calls f.
func (f PublisherFunc) Subscribe(ctx context.Context, yield func(*GraphQLResponse) bool) error {
	return f(ctx, yield)
}

// NewError builds a GraphQLError with an optional "code" extension.
func NewError(message, code string) GraphQLError {
	e := GraphQLError{Message: message}
	if code != "" {
		e.Extensions = map[string]interface{}{"code": code}
	}
	return e
}
