package graphql

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
)

// ErrSchemaRequired indicates a configuration without a schema.
var ErrSchemaRequired = errors.New("either schema or schemaFile must be provided")

// Schema represents a parsed GraphQL schema with accessors for the root
// operation fields.
type Schema struct {
	ast           *ast.Schema
	source        string
	queries       map[string]*ast.FieldDefinition
	mutations     map[string]*ast.FieldDefinition
	subscriptions map[string]*ast.FieldDefinition
}

// ParseSchema parses a GraphQL SDL string and returns a Schema.
func ParseSchema(sdl string) (*Schema, error) {
	return parseSource(&ast.Source{Name: "schema", Input: sdl})
}

// ParseSchemaFile parses a GraphQL schema from a file and returns a Schema.
func ParseSchemaFile(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file %s: %w", path, err)
	}
	return parseSource(&ast.Source{Name: path, Input: string(data)})
}

// LoadSchema parses the schema referenced by an endpoint configuration,
// preferring the inline schema over the schema file.
func LoadSchema(config *GraphQLConfig) (*Schema, error) {
	switch {
	case config == nil:
		return nil, ErrSchemaRequired
	case config.Schema != "":
		return ParseSchema(config.Schema)
	case config.SchemaFile != "":
		return ParseSchemaFile(config.SchemaFile)
	default:
		return nil, ErrSchemaRequired
	}
}

func parseSource(source *ast.Source) (*Schema, error) {
	schema, err := gqlparser.LoadSchema(source)
	if err != nil {
		return nil, fmt.Errorf("failed to parse GraphQL schema %s: %w", source.Name, err)
	}

	s := &Schema{
		ast:           schema,
		source:        source.Input,
		queries:       indexFields(schema.Query),
		mutations:     indexFields(schema.Mutation),
		subscriptions: indexFields(schema.Subscription),
	}
	return s, nil
}

// indexFields indexes a root type's fields, skipping introspection fields.
func indexFields(def *ast.Definition) map[string]*ast.FieldDefinition {
	fields := make(map[string]*ast.FieldDefinition)
	if def == nil {
		return fields
	}
	for _, field := range def.Fields {
		if !strings.HasPrefix(field.Name, "__") {
			fields[field.Name] = field
		}
	}
	return fields
}

// AST returns the underlying gqlparser AST schema.
func (s *Schema) AST() *ast.Schema {
	return s.ast
}

// Source returns the original SDL source string.
func (s *Schema) Source() string {
	return s.source
}

// ListQueries returns all query field names in sorted order.
func (s *Schema) ListQueries() []string {
	return sortedKeys(s.queries)
}

// ListMutations returns all mutation field names in sorted order.
func (s *Schema) ListMutations() []string {
	return sortedKeys(s.mutations)
}

// ListSubscriptions returns all subscription field names in sorted order.
func (s *Schema) ListSubscriptions() []string {
	return sortedKeys(s.subscriptions)
}

// HasSubscription returns true if the schema has a subscription type with fields.
func (s *Schema) HasSubscription() bool {
	return len(s.subscriptions) > 0
}

// Validate checks that the schema has a Query type with at least one field.
func (s *Schema) Validate() error {
	if len(s.queries) == 0 {
		return errors.New("schema must define a Query type with at least one field")
	}
	return nil
}

// CheckConfig reports resolver and subscription entries that do not refer to
// a field of the schema.
func (s *Schema) CheckConfig(config *GraphQLConfig) error {
	if config == nil {
		return nil
	}

	var problems []string
	for path := range config.Resolvers {
		fp := ParseFieldPath(path)
		if !s.hasRootField(fp) {
			problems = append(problems, fmt.Sprintf("resolver %q: no such field", path))
		}
	}
	for name, sub := range config.Subscriptions {
		field := strings.TrimPrefix(name, "Subscription.")
		if _, ok := s.subscriptions[field]; !ok {
			problems = append(problems, fmt.Sprintf("subscription %q: no such field", name))
		}
		if sub.Redis != nil && sub.Redis.Channel == "" {
			problems = append(problems, fmt.Sprintf("subscription %q: %v", name, ErrRedisChannelRequired))
		}
	}

	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return errors.New(strings.Join(problems, "; "))
}

func (s *Schema) hasRootField(fp FieldPath) bool {
	var fields map[string]*ast.FieldDefinition
	switch fp.TypeName {
	case "Query":
		fields = s.queries
	case "Mutation":
		fields = s.mutations
	case "Subscription":
		fields = s.subscriptions
	default:
		def := s.ast.Types[fp.TypeName]
		return def != nil && def.Fields.ForName(fp.FieldName) != nil
	}
	_, ok := fields[fp.FieldName]
	return ok
}

// FieldPath represents a path to a field in the schema (e.g., "Query.user").
type FieldPath struct {
	TypeName  string
	FieldName string
}

// String returns the string representation of the field path.
func (fp FieldPath) String() string {
	return fp.TypeName + "." + fp.FieldName
}

// ParseFieldPath parses a field path string (e.g., "Query.user") into a FieldPath.
// A path without a dot is treated as a bare field name.
func ParseFieldPath(path string) FieldPath {
	if i := strings.IndexByte(path, '.'); i >= 0 {
		return FieldPath{TypeName: path[:i], FieldName: path[i+1:]}
	}
	return FieldPath{FieldName: path}
}

func sortedKeys(m map[string]*ast.FieldDefinition) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
