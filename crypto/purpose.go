package crypto

import (
	"github.com/cockroachdb/errors"
)

var (
	// ErrSecretRewrap marks every failure to move a secret from the remote
	// KMS to the local cipher. A caller that sees it must not cache anything.
	ErrSecretRewrap = errors.New("crypto: secret rewrap failed")
	// ErrUnknownPurpose is returned for a purpose outside the fixed set.
	ErrUnknownPurpose = errors.New("crypto: unknown purpose")
)

// Purpose scopes a KMS decrypt to one kind of secret. It is sent as the
// "purpose" encryption context and bound into the local ciphertext, so a
// secret sealed for one purpose cannot be opened as another.
type Purpose int

const (
	PurposeUnknown Purpose = iota
	PurposeUserPasswordSalt
	PurposePlatformSecret
	PurposeSecureToken
	// PurposeLocalKey unwraps the local cipher's own data key at startup.
	PurposeLocalKey
)

var purposeNames = map[Purpose]string{
	PurposeUserPasswordSalt: "user-password-salt",
	PurposePlatformSecret:   "platform-secret",
	PurposeSecureToken:      "secure-token",
	PurposeLocalKey:         "local-cache-key",
}

func (p Purpose) String() string {
	if name, ok := purposeNames[p]; ok {
		return name
	}
	return "unknown"
}

// Valid reports whether p is one of the known purposes.
func (p Purpose) Valid() bool {
	_, ok := purposeNames[p]
	return ok
}

// ParsePurpose converts a purpose name such as "platform-secret".
func ParsePurpose(s string) (Purpose, error) {
	for p, name := range purposeNames {
		if name == s {
			return p, nil
		}
	}
	return PurposeUnknown, errors.Wrapf(ErrUnknownPurpose, "%q", s)
}

func checkPurpose(p Purpose) error {
	if p.Valid() {
		return nil
	}
	return errors.Wrapf(ErrUnknownPurpose, "purpose %d", int(p))
}
