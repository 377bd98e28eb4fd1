package common

// AuthorizationHeaderName is the HTTP header used to carry the access token
// on outbound requests to the record service.
const AuthorizationHeaderName = "Authorization"
