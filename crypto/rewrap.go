package crypto

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/vidfeed/fetchcache/crypto")

var rewrapTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "fetchcache_secret_rewrap_total",
	Help: "Total number of KMS to local cipher rewraps, by purpose and result",
}, []string{"purpose", "result"})

// Rewrapper moves secrets from the remote KMS to the local cipher. Caches
// call Rewrap while loading a record so the KMS round trip happens once per
// population and only local ciphertext is ever stored.
type Rewrapper struct {
	kms   KMS
	local *LocalCipher
}

// NewRewrapper returns a Rewrapper decrypting with kms and sealing with local.
func NewRewrapper(kms KMS, local *LocalCipher) *Rewrapper {
	return &Rewrapper{kms: kms, local: local}
}

// Rewrap decrypts remote with the KMS under purpose and re-seals the
// plaintext with the local cipher. Any failure is marked ErrSecretRewrap.
func (r *Rewrapper) Rewrap(ctx context.Context, remote []byte, purpose Purpose) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "crypto.Rewrap", trace.WithAttributes(
		attribute.String("crypto.purpose", purpose.String()),
	))
	defer span.End()

	local, err := r.rewrap(ctx, remote, purpose)
	if err != nil {
		rewrapTotal.WithLabelValues(purpose.String(), "error").Inc()
		span.RecordError(err)
		return nil, errors.Mark(err, ErrSecretRewrap)
	}
	rewrapTotal.WithLabelValues(purpose.String(), "ok").Inc()
	return local, nil
}

func (r *Rewrapper) rewrap(ctx context.Context, remote []byte, purpose Purpose) ([]byte, error) {
	if err := checkRewrapPurpose(purpose); err != nil {
		return nil, err
	}
	if len(remote) == 0 {
		return nil, errors.New("crypto: empty ciphertext")
	}
	plaintext, err := r.kms.Decrypt(ctx, remote, purpose)
	if err != nil {
		return nil, err
	}
	defer clear(plaintext)
	return r.local.Seal(plaintext, purpose)
}

// Open recovers the plaintext of a value produced by Rewrap.
func (r *Rewrapper) Open(local []byte, purpose Purpose) ([]byte, error) {
	if err := checkRewrapPurpose(purpose); err != nil {
		return nil, errors.Mark(err, ErrSecretRewrap)
	}
	plaintext, err := r.local.Open(local, purpose)
	if err != nil {
		return nil, errors.Mark(err, ErrSecretRewrap)
	}
	return plaintext, nil
}

// The local key's own purpose is never a valid rewrap target.
func checkRewrapPurpose(p Purpose) error {
	if p == PurposeLocalKey {
		return errors.Wrapf(ErrUnknownPurpose, "%s is not a secret purpose", p)
	}
	return checkPurpose(p)
}
