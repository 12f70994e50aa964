package crypto

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/cockroachdb/errors"
)

// KMS decrypts secrets held by a remote key-management service.
type KMS interface {
	Decrypt(ctx context.Context, ciphertext []byte, purpose Purpose) ([]byte, error)
}

// KMSAPI is the part of the AWS KMS client AWSKMS needs.
type KMSAPI interface {
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// AWSKMS implements KMS on AWS KMS. Every decrypt carries the purpose as the
// "purpose" encryption context, which must match the context the secret was
// encrypted under.
type AWSKMS struct {
	client KMSAPI
	keyID  string
}

var _ KMS = (*AWSKMS)(nil)

// NewAWSKMS loads the default AWS configuration and returns an AWSKMS for
// keyID. An empty keyID lets KMS pick the key from the ciphertext.
func NewAWSKMS(ctx context.Context, region, keyID string) (*AWSKMS, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "crypto: failed to load AWS config")
	}
	return NewAWSKMSFromClient(kms.NewFromConfig(cfg), keyID), nil
}

// NewAWSKMSFromClient returns an AWSKMS using an existing client.
func NewAWSKMSFromClient(client KMSAPI, keyID string) *AWSKMS {
	return &AWSKMS{client: client, keyID: keyID}
}

func (k *AWSKMS) Decrypt(ctx context.Context, ciphertext []byte, purpose Purpose) ([]byte, error) {
	if err := checkPurpose(purpose); err != nil {
		return nil, err
	}
	input := &kms.DecryptInput{
		CiphertextBlob:    ciphertext,
		EncryptionContext: map[string]string{"purpose": purpose.String()},
	}
	if k.keyID != "" {
		input.KeyId = aws.String(k.keyID)
	}
	out, err := k.client.Decrypt(ctx, input)
	if err != nil {
		return nil, errors.Wrapf(err, "crypto: kms decrypt for %s", purpose)
	}
	return out.Plaintext, nil
}
