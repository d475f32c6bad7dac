package xcrypto

import "errors"

// ErrCryptoFailure is returned whenever a cryptographic operation cannot be
// completed — a malformed key, an RSA block too small for its padding, or
// an OAEP retry budget exhausted.
var ErrCryptoFailure = errors.New("xcrypto: cryptographic operation failed")
