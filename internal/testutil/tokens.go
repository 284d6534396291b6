package testutil

// FixedTokenGenerator mints the same provenance token every time.
//
// Binder receipts and realized-node provenance carry the batch token, so
// a fixed generator makes event logs byte-identical across runs, which
// golden tests depend on.
//
// FixedTokenGenerator is stateless and safe for concurrent use.
type FixedTokenGenerator struct {
	token string
}

// NewFixedTokenGenerator creates a fixed token generator.
// If token is empty, NewToken returns "test-token-default".
func NewFixedTokenGenerator(token string) *FixedTokenGenerator {
	if token == "" {
		token = "test-token-default"
	}
	return &FixedTokenGenerator{token: token}
}

// NewToken returns the fixed token.
// Implements the binder's TokenGenerator interface.
func (g *FixedTokenGenerator) NewToken() (string, error) {
	return g.token, nil
}
