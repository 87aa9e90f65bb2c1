package graphql

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/expr-lang/expr/vm"
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
)

// Error codes placed in the "code" extension of executor errors.
const (
	CodeValidationFailed = "GRAPHQL_VALIDATION_FAILED"
	CodeBadUserInput     = "BAD_USER_INPUT"
	CodeNoSubscription   = "SUBSCRIPTION_NOT_CONFIGURED"
)

// Executor executes GraphQL operations against configured resolvers and
// subscription streams.
type Executor struct {
	schema    *Schema
	config    *GraphQLConfig
	resolvers map[string][]ResolverConfig // "Query.user" -> resolvers (multiple for conditional matching)

	filterMu sync.RWMutex
	filters  map[string]*vm.Program
}

// NewExecutor creates a new GraphQL executor with the given schema and configuration.
func NewExecutor(schema *Schema, config *GraphQLConfig) *Executor {
	e := &Executor{
		schema:    schema,
		config:    config,
		resolvers: make(map[string][]ResolverConfig),
		filters:   make(map[string]*vm.Program),
	}

	if config != nil {
		for path, resolver := range config.Resolvers {
			e.resolvers[path] = append(e.resolvers[path], resolver)
		}
	}

	return e
}

// Schema returns the executor's schema.
func (e *Executor) Schema() *Schema {
	return e.schema
}

// Execute executes a GraphQL request. For subscription operations the
// response Data is a Publisher when the field has a stream configured.
func (e *Executor) Execute(ctx context.Context, req *GraphQLRequest) *GraphQLResponse {
	if req == nil || req.Query == "" {
		return &GraphQLResponse{
			Errors: []GraphQLError{NewError("query is required", CodeBadUserInput)},
		}
	}

	doc, errs := e.parseQuery(req.Query)
	if len(errs) > 0 {
		return &GraphQLResponse{Errors: errs}
	}

	op, err := selectOperation(doc, req.OperationName)
	if err != nil {
		return &GraphQLResponse{
			Errors: []GraphQLError{NewError(err.Error(), CodeBadUserInput)},
		}
	}

	data, execErrs := e.executeOperation(ctx, op, req.Variables)
	return &GraphQLResponse{Data: data, Errors: execErrs}
}

// parseQuery parses and validates a GraphQL query against the schema.
func (e *Executor) parseQuery(query string) (*ast.QueryDocument, []GraphQLError) {
	doc, errs := gqlparser.LoadQuery(e.schema.AST(), query)
	if len(errs) > 0 {
		return nil, convertErrors(errs)
	}
	return doc, nil
}

// selectOperation picks the operation to run from a parsed document.
func selectOperation(doc *ast.QueryDocument, name string) (*ast.OperationDefinition, error) {
	if name == "" {
		switch len(doc.Operations) {
		case 0:
			return nil, errors.New("no operation found in query")
		case 1:
			return doc.Operations[0], nil
		default:
			return nil, errors.New("operationName is required for documents with multiple operations")
		}
	}

	if op := doc.Operations.ForName(name); op != nil {
		return op, nil
	}
	return nil, fmt.Errorf("operation %q not found", name)
}

func convertErrors(list gqlerror.List) []GraphQLError {
	out := make([]GraphQLError, 0, len(list))
	for _, err := range list {
		gqlErr := GraphQLError{
			Message:    err.Message,
			Extensions: map[string]interface{}{"code": CodeValidationFailed},
		}
		for _, loc := range err.Locations {
			gqlErr.Locations = append(gqlErr.Locations, GraphQLErrorLocation{Line: loc.Line, Column: loc.Column})
		}
		for k, v := range err.Extensions {
			gqlErr.Extensions[k] = v
		}
		out = append(out, gqlErr)
	}
	return out
}

// executeOperation executes a single GraphQL operation.
func (e *Executor) executeOperation(ctx context.Context, op *ast.OperationDefinition, variables map[string]interface{}) (interface{}, []GraphQLError) {
	switch op.Operation {
	case ast.Query:
		return e.executeSelectionSet(ctx, "Query", op.SelectionSet, variables)
	case ast.Mutation:
		return e.executeSelectionSet(ctx, "Mutation", op.SelectionSet, variables)
	case ast.Subscription:
		return e.executeSubscription(ctx, op.SelectionSet, variables)
	default:
		return nil, []GraphQLError{{Message: "unsupported operation type"}}
	}
}

// executeSubscription resolves the single root field of a subscription.
// A field with a stream configuration yields a Publisher; a field that only
// has a plain resolver yields that resolver's value.
func (e *Executor) executeSubscription(ctx context.Context, selections ast.SelectionSet, variables map[string]interface{}) (interface{}, []GraphQLError) {
	var field *ast.Field
	for _, sel := range selections {
		if f, ok := sel.(*ast.Field); ok {
			field = f
			break
		}
	}
	if field == nil {
		return nil, []GraphQLError{{Message: "subscription must select exactly one field"}}
	}

	alias := field.Alias
	if alias == "" {
		alias = field.Name
	}
	args := e.extractArguments(field, variables)

	if config := e.findSubscriptionConfig(field.Name); config != nil {
		pub, err := e.publisherFor(alias, config, args)
		if err != nil {
			return nil, []GraphQLError{{Message: err.Error(), Path: []interface{}{alias}}}
		}
		return pub, nil
	}

	if resolver := e.findResolver("Subscription."+field.Name, args); resolver != nil {
		value, gqlErr := e.resolveField(ctx, resolver, args)
		if gqlErr != nil {
			gqlErr.Path = []interface{}{alias}
			return nil, []GraphQLError{*gqlErr}
		}
		return map[string]interface{}{alias: value}, nil
	}

	return nil, []GraphQLError{NewError(fmt.Sprintf("no subscription configured for %q", field.Name), CodeNoSubscription)}
}

// executeSelectionSet executes a selection set against resolvers.
func (e *Executor) executeSelectionSet(ctx context.Context, opType string, selections ast.SelectionSet, variables map[string]interface{}) (map[string]interface{}, []GraphQLError) {
	result := make(map[string]interface{})
	var errs []GraphQLError

	for _, sel := range selections {
		s, ok := sel.(*ast.Field)
		if !ok {
			continue
		}

		alias := s.Alias
		if alias == "" {
			alias = s.Name
		}

		if s.Name == "__typename" {
			result[alias] = opType
			continue
		}

		args := e.extractArguments(s, variables)
		resolver := e.findResolver(opType+"."+s.Name, args)

		value, gqlErr := e.resolveField(ctx, resolver, args)
		if gqlErr != nil {
			if gqlErr.Path == nil {
				gqlErr.Path = []interface{}{alias}
			}
			errs = append(errs, *gqlErr)
			result[alias] = nil
			continue
		}
		result[alias] = value
	}

	return result, errs
}

// extractArguments extracts argument values from a field.
func (e *Executor) extractArguments(field *ast.Field, variables map[string]interface{}) map[string]interface{} {
	args := make(map[string]interface{})
	for _, arg := range field.Arguments {
		args[arg.Name] = resolveValue(arg.Value, variables)
	}
	return args
}

// resolveValue resolves an AST value to a Go value.
func resolveValue(value *ast.Value, variables map[string]interface{}) interface{} {
	if value == nil {
		return nil
	}

	switch value.Kind {
	case ast.Variable:
		return variables[value.Raw]
	case ast.IntValue:
		if n, err := strconv.ParseInt(value.Raw, 10, 64); err == nil {
			return n
		}
		return value.Raw
	case ast.FloatValue:
		if f, err := strconv.ParseFloat(value.Raw, 64); err == nil {
			return f
		}
		return value.Raw
	case ast.StringValue, ast.BlockValue, ast.EnumValue:
		return value.Raw
	case ast.BooleanValue:
		return value.Raw == "true"
	case ast.NullValue:
		return nil
	case ast.ListValue:
		list := make([]interface{}, 0, len(value.Children))
		for _, child := range value.Children {
			list = append(list, resolveValue(child.Value, variables))
		}
		return list
	case ast.ObjectValue:
		obj := make(map[string]interface{}, len(value.Children))
		for _, child := range value.Children {
			obj[child.Name] = resolveValue(child.Value, variables)
		}
		return obj
	default:
		return value.Raw
	}
}

// findResolver finds the best matching resolver for a field path and arguments.
func (e *Executor) findResolver(path string, args map[string]interface{}) *ResolverConfig {
	resolvers := e.resolvers[path]
	for i := range resolvers {
		if resolvers[i].Match != nil && matchArgs(resolvers[i].Match.Args, args) {
			return &resolvers[i]
		}
	}
	for i := range resolvers {
		if resolvers[i].Match == nil {
			return &resolvers[i]
		}
	}
	return nil
}

// matchArgs checks if the resolver match conditions are satisfied by the arguments.
func matchArgs(expected, actual map[string]interface{}) bool {
	for key, want := range expected {
		got, ok := actual[key]
		if !ok {
			return false
		}
		// Compare as strings so int and int64 match.
		if fmt.Sprintf("%v", want) != fmt.Sprintf("%v", got) {
			return false
		}
	}
	return true
}

// resolveField resolves a single field using the resolver configuration.
func (e *Executor) resolveField(ctx context.Context, resolver *ResolverConfig, args map[string]interface{}) (interface{}, *GraphQLError) {
	if resolver == nil {
		return nil, nil
	}

	if resolver.Delay != "" {
		if delay, err := time.ParseDuration(resolver.Delay); err == nil {
			if err := sleep(ctx, delay); err != nil {
				return nil, &GraphQLError{Message: "request cancelled"}
			}
		}
	}

	if resolver.Error != nil {
		gqlErr := &GraphQLError{
			Message:    resolver.Error.Message,
			Extensions: resolver.Error.Extensions,
		}
		for _, p := range resolver.Error.Path {
			gqlErr.Path = append(gqlErr.Path, p)
		}
		return nil, gqlErr
	}

	return applyVariables(resolver.Response, args), nil
}
