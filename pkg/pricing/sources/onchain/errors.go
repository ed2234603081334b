package onchain

import "errors"

var (
	// ErrRPCURLsRequired indicates rpc_urls is missing or incomplete.
	ErrRPCURLsRequired = errors.New("rpc_urls must map every configured network to an endpoint")
)
