// Package grantkit implements the token-issuance core of an OAuth 2.0
// authorization server for the UMA 2.0 permission-ticket grant and the
// RFC 8693 token-exchange grant.
//
// This package is the HTTP boundary: the Handler type authenticates the
// requesting client, parses the token-endpoint form, and renders the
// outcome as a token response, a UMA need_info continuation, or an
// RFC 6749 error body. The decision logic lives below it:
//   - Grant dispatch and grant pipelines (grant package)
//   - Token verification and issuance (token package)
//   - Ticket, client, and resource storage (storage package)
//   - Cedar access-policy evaluation (policy package)
//   - Security auditing and rate limiting (security package)
//
// Example usage:
//
//	store := memory.New()
//	tokens, err := token.NewJWTService(token.JWTConfig{
//	    Issuer:     "https://auth.example.com",
//	    SigningKey: signingKey,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	uma, err := grant.NewUMAGranter(grant.UMAGranterConfig{
//	    Domain:     grant.Config{UMAEnabled: true},
//	    Tokens:     tokens,
//	    Tickets:    store,
//	    Resources:  store,
//	    Identities: identity.NewMemoryResolver(),
//	    Policies:   cedar.New(nil),
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	handler, err := grantkit.NewHandler(grantkit.HandlerConfig{
//	    Dispatcher: grant.NewDispatcher([]grant.Granter{uma}),
//	    Clients:    store,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	http.Handle("/token", handler)
package grantkit
