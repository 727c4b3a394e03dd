package common

// AuthorizationHeaderName is the HTTP header that carries the bearer access
// token on authenticated requests.
const AuthorizationHeaderName = "Authorization"

// SecretByteLen is the number of random bytes behind every opaque secret we
// hand out (refresh-token secrets and exchange codes). Encoded as hex, the
// resulting strings are twice this length.
const SecretByteLen = 32
