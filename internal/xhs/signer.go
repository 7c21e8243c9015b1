package xhs

import "context"

// Signer produces the signature headers for one API request. uri is the
// request path including its query string; payload is the JSON body of a
// POST or nil.
type Signer interface {
	Sign(ctx context.Context, uri string, payload any) (map[string]string, error)
}

// NopSigner sends requests unsigned.
type NopSigner struct{}

// Sign implements Signer.
func (NopSigner) Sign(context.Context, string, any) (map[string]string, error) {
	return nil, nil
}
