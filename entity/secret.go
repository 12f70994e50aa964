package entity

import (
	"context"
	"time"

	"github.com/vidfeed/fetchcache/cache"
	"github.com/vidfeed/fetchcache/crypto"
)

// UserSecretRecord is the stored credential row. EncryptedSalt is KMS
// ciphertext under the user-password-salt purpose.
type UserSecretRecord struct {
	UserID        int64
	PasswordHash  string
	EncryptedSalt []byte
}

// UserSecret is the cached form of a credential: the salt is sealed with the
// local cipher and never held in plaintext.
type UserSecret struct {
	UserID       int64  `msgpack:"user_id"`
	PasswordHash string `msgpack:"password_hash"`
	Salt         []byte `msgpack:"salt"`
}

type UserSecretSource interface {
	GetUserSecret(ctx context.Context, userID int64) (UserSecretRecord, error)
}

// UserSecretCache serves password credentials for login checks.
type UserSecretCache struct {
	single    *cache.Single[int64, UserSecret]
	source    UserSecretSource
	rewrapper *crypto.Rewrapper
}

func NewUserSecretCache(layer *cache.Layer, source UserSecretSource, rewrapper *crypto.Rewrapper) (*UserSecretCache, error) {
	single, err := cache.NewSingle[int64, UserSecret](layer, mustDefinition(ComponentUserSecret))
	if err != nil {
		return nil, err
	}
	return &UserSecretCache{single: single, source: source, rewrapper: rewrapper}, nil
}

// Get returns the credential for userID. A KMS failure fails the call and
// nothing is cached.
func (c *UserSecretCache) Get(ctx context.Context, userID int64) (UserSecret, bool, error) {
	return c.single.Fetch(ctx, userID, func(ctx context.Context) (UserSecret, bool, error) {
		rec, err := c.source.GetUserSecret(ctx, userID)
		rec, found, err := notFound(rec, err)
		if err != nil || !found {
			return UserSecret{}, found, err
		}
		salt, err := c.rewrapper.Rewrap(ctx, rec.EncryptedSalt, crypto.PurposeUserPasswordSalt)
		if err != nil {
			return UserSecret{}, false, err
		}
		return UserSecret{UserID: rec.UserID, PasswordHash: rec.PasswordHash, Salt: salt}, true, nil
	})
}

// Salt returns the plaintext salt of a cached credential.
func (c *UserSecretCache) Salt(s UserSecret) ([]byte, error) {
	return c.rewrapper.Open(s.Salt, crypto.PurposeUserPasswordSalt)
}

func (c *UserSecretCache) Flush(ctx context.Context, userID int64) error {
	return c.single.Flush(ctx, userID)
}

// SecureTokenRecord is the stored platform credential set. Every secret is
// KMS ciphertext: the token under secure-token and each platform secret
// under platform-secret.
type SecureTokenRecord struct {
	Name                     string
	Version                  int
	RotatedAt                time.Time
	EncryptedToken           []byte
	EncryptedPlatformSecrets map[string][]byte
}

// SecureToken is the cached credential set, every secret sealed locally.
type SecureToken struct {
	Name            string            `msgpack:"name"`
	Version         int               `msgpack:"version"`
	RotatedAt       time.Time         `msgpack:"rotated_at"`
	Token           []byte            `msgpack:"token"`
	PlatformSecrets map[string][]byte `msgpack:"platform_secrets,omitempty"`
}

type SecureTokenSource interface {
	GetSecureToken(ctx context.Context, name string) (SecureTokenRecord, error)
}

// SecureTokenCache keeps the request-signing token and the third-party
// platform secrets in process memory; they are read on every request.
type SecureTokenCache struct {
	single    *cache.Single[string, SecureToken]
	source    SecureTokenSource
	rewrapper *crypto.Rewrapper
}

func NewSecureTokenCache(layer *cache.Layer, source SecureTokenSource, rewrapper *crypto.Rewrapper) (*SecureTokenCache, error) {
	single, err := cache.NewSingle[string, SecureToken](layer, mustDefinition(ComponentSecureToken))
	if err != nil {
		return nil, err
	}
	return &SecureTokenCache{single: single, source: source, rewrapper: rewrapper}, nil
}

// Get returns the credential set called name. If any secret fails to rewrap
// the whole record is rejected.
func (c *SecureTokenCache) Get(ctx context.Context, name string) (SecureToken, bool, error) {
	return c.single.Fetch(ctx, name, func(ctx context.Context) (SecureToken, bool, error) {
		rec, err := c.source.GetSecureToken(ctx, name)
		rec, found, err := notFound(rec, err)
		if err != nil || !found {
			return SecureToken{}, found, err
		}
		token, err := c.rewrapper.Rewrap(ctx, rec.EncryptedToken, crypto.PurposeSecureToken)
		if err != nil {
			return SecureToken{}, false, err
		}
		out := SecureToken{Name: rec.Name, Version: rec.Version, RotatedAt: rec.RotatedAt, Token: token}
		if len(rec.EncryptedPlatformSecrets) > 0 {
			out.PlatformSecrets = make(map[string][]byte, len(rec.EncryptedPlatformSecrets))
			for platform, remote := range rec.EncryptedPlatformSecrets {
				local, err := c.rewrapper.Rewrap(ctx, remote, crypto.PurposePlatformSecret)
				if err != nil {
					return SecureToken{}, false, err
				}
				out.PlatformSecrets[platform] = local
			}
		}
		return out, true, nil
	})
}

// OpenToken returns the plaintext token.
func (c *SecureTokenCache) OpenToken(t SecureToken) ([]byte, error) {
	return c.rewrapper.Open(t.Token, crypto.PurposeSecureToken)
}

// OpenPlatformSecret returns the plaintext secret for platform.
func (c *SecureTokenCache) OpenPlatformSecret(t SecureToken, platform string) ([]byte, bool, error) {
	sealed, ok := t.PlatformSecrets[platform]
	if !ok {
		return nil, false, nil
	}
	plain, err := c.rewrapper.Open(sealed, crypto.PurposePlatformSecret)
	if err != nil {
		return nil, false, err
	}
	return plain, true, nil
}

func (c *SecureTokenCache) Flush(ctx context.Context, name string) error {
	return c.single.Flush(ctx, name)
}
