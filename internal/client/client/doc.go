// Package client talks to the RentKeeper HTTP API.
//
// HTTPClient keeps the credential pair in a storage.TokenStore. Calls to
// protected endpoints that come back 401 go through a renewal.Coordinator,
// so any number of concurrent failures cost a single refresh call, and are
// then retried once with the new access credential.
//
// Errors map to sentinels callers can match with errors.Is: ErrUnavailable,
// ErrUnauthorized, ErrNotLoggedIn. A 400 response becomes a
// *common.ValidationError carrying the server's field messages.
package client
