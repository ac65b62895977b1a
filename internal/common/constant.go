package common

// AuthorizationHeaderName carries the collaborator's bearer token.
const AuthorizationHeaderName = "Authorization"

// BearerPrefix precedes the JWT in AuthorizationHeaderName.
const BearerPrefix = "Bearer "
