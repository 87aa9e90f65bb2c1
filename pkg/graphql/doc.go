// Package graphql provides the schema-driven executor behind the gqlws server.
//
// Operations are validated against an SDL schema with gqlparser and resolved
// from configuration: queries and mutations return configured responses, and
// subscription fields produce a Publisher that streams configured events or
// messages from a Redis channel.
//
// Key features:
//   - Parse GraphQL SDL schemas from strings or files
//   - Configure resolvers with responses, delays, argument matching and errors
//   - Stream subscription events with fixed or random timing and repetition
//   - Filter events with expr-lang expressions over "args" and "data"
//   - Relay Redis pub/sub messages as subscription events
//
// Basic usage:
//
//	handler, err := graphql.Endpoint(&graphql.GraphQLConfig{
//	    Path: "/graphql",
//	    Schema: `
//	        type Query { hello: String }
//	        type Subscription { greetings: String }
//	    `,
//	    Resolvers: map[string]graphql.ResolverConfig{
//	        "Query.hello": {Response: "world"},
//	    },
//	    Subscriptions: map[string]graphql.SubscriptionConfig{
//	        "greetings": {Events: []graphql.EventConfig{{Data: "Hi"}, {Data: "Bonjour"}}},
//	    },
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	resp := handler.Executor().Execute(ctx, &graphql.GraphQLRequest{
//	    Query: "subscription { greetings }",
//	})
//	pub := resp.Data.(graphql.Publisher)
//	_ = pub.Subscribe(ctx, func(item *graphql.GraphQLResponse) bool {
//	    fmt.Println(item.Data) // map[greetings:Hi], then map[greetings:Bonjour]
//	    return true
//	})
package graphql
