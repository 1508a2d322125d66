package common

// AuthorizationHeaderName is the HTTP header carrying the access token on
// outbound requests, in "Bearer <token>" form.
const AuthorizationHeaderName = "Authorization"

// BearerPrefix is the scheme prefix expected in the Authorization header.
const BearerPrefix = "Bearer "
