package crypto

import (
	"bytes"
	"context"
	"crypto/rand"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/cockroachdb/errors"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, LocalKeySize)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	return key
}

func testCipher(t *testing.T) *LocalCipher {
	t.Helper()
	c, err := NewLocalCipher(testKey(t))
	if err != nil {
		t.Fatalf("NewLocalCipher() error = %v", err)
	}
	return c
}

// fakeKMS "encrypts" by prefixing the purpose name.
type fakeKMS struct {
	calls int
	err   error
}

func fakeWrap(purpose Purpose, plaintext []byte) []byte {
	return append([]byte(purpose.String()+":"), plaintext...)
}

func (f *fakeKMS) Decrypt(ctx context.Context, ciphertext []byte, purpose Purpose) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	prefix := []byte(purpose.String() + ":")
	if !bytes.HasPrefix(ciphertext, prefix) {
		return nil, errors.New("InvalidCiphertextException: encryption context mismatch")
	}
	return bytes.Clone(ciphertext[len(prefix):]), nil
}

func TestNewLocalCipher(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		wantErr bool
	}{
		{name: "aes-256", size: 32},
		{name: "short", size: 16, wantErr: true},
		{name: "empty", size: 0, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLocalCipher(make([]byte, tt.size))
			if (err != nil) != tt.wantErr {
				t.Errorf("NewLocalCipher() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLocalCipherRoundTrip(t *testing.T) {
	c := testCipher(t)
	plaintext := []byte("s3cr3t-salt")

	sealed, err := c.Seal(plaintext, PurposeUserPasswordSalt)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if bytes.Contains(sealed, plaintext) {
		t.Error("Seal() output contains the plaintext")
	}
	again, _ := c.Seal(plaintext, PurposeUserPasswordSalt)
	if bytes.Equal(sealed, again) {
		t.Error("Seal() must use a fresh nonce per call")
	}

	opened, err := c.Open(sealed, PurposeUserPasswordSalt)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Errorf("Open() = %q, want %q", opened, plaintext)
	}
}

func TestLocalCipherBindsPurpose(t *testing.T) {
	c := testCipher(t)
	sealed, err := c.Seal([]byte("token"), PurposeSecureToken)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if _, err := c.Open(sealed, PurposePlatformSecret); err == nil {
		t.Error("Open() with another purpose should fail")
	}
}

func TestLocalCipherRejectsTampering(t *testing.T) {
	c := testCipher(t)
	sealed, err := c.Seal([]byte("token"), PurposeSecureToken)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	tests := []struct {
		name string
		data []byte
	}{
		{name: "flipped bit", data: func() []byte { b := bytes.Clone(sealed); b[len(b)-1] ^= 1; return b }()},
		{name: "truncated", data: sealed[:10]},
		{name: "bad version", data: func() []byte { b := bytes.Clone(sealed); b[0] = 9; return b }()},
		{name: "other key", data: func() []byte { b, _ := testCipher(t).Seal([]byte("token"), PurposeSecureToken); return b }()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := c.Open(tt.data, PurposeSecureToken); err == nil {
				t.Error("Open() should fail")
			}
		})
	}
}

func TestParsePurpose(t *testing.T) {
	for _, p := range []Purpose{PurposeUserPasswordSalt, PurposePlatformSecret, PurposeSecureToken} {
		got, err := ParsePurpose(p.String())
		if err != nil || got != p {
			t.Errorf("ParsePurpose(%q) = %v, %v", p.String(), got, err)
		}
	}
	if _, err := ParsePurpose("session-key"); !errors.Is(err, ErrUnknownPurpose) {
		t.Errorf("ParsePurpose() error = %v, want ErrUnknownPurpose", err)
	}
}

func TestRewrap(t *testing.T) {
	ctx := context.Background()
	kms := &fakeKMS{}
	r := NewRewrapper(kms, testCipher(t))

	local, err := r.Rewrap(ctx, fakeWrap(PurposePlatformSecret, []byte("api-key")), PurposePlatformSecret)
	if err != nil {
		t.Fatalf("Rewrap() error = %v", err)
	}
	if bytes.Contains(local, []byte("api-key")) {
		t.Error("Rewrap() output contains the plaintext")
	}
	plaintext, err := r.Open(local, PurposePlatformSecret)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if string(plaintext) != "api-key" {
		t.Errorf("Open() = %q, want %q", plaintext, "api-key")
	}
	if kms.calls != 1 {
		t.Errorf("KMS calls = %d, want 1", kms.calls)
	}
}

func TestRewrapFailures(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name        string
		kmsErr      error
		remote      []byte
		purpose     Purpose
		wantUnknown bool
	}{
		{name: "kms error", kmsErr: errors.New("ThrottlingException"), remote: []byte("x"), purpose: PurposeSecureToken},
		{name: "context mismatch", remote: fakeWrap(PurposeSecureToken, []byte("x")), purpose: PurposePlatformSecret},
		{name: "empty", remote: nil, purpose: PurposeSecureToken},
		{name: "unknown purpose", remote: []byte("x"), purpose: Purpose(42), wantUnknown: true},
		{name: "local key purpose", remote: []byte("x"), purpose: PurposeLocalKey, wantUnknown: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRewrapper(&fakeKMS{err: tt.kmsErr}, testCipher(t))
			out, err := r.Rewrap(ctx, tt.remote, tt.purpose)
			if out != nil {
				t.Errorf("Rewrap() = %v, want nil", out)
			}
			if !errors.Is(err, ErrSecretRewrap) {
				t.Errorf("Rewrap() error = %v, want ErrSecretRewrap", err)
			}
			if tt.wantUnknown && !errors.Is(err, ErrUnknownPurpose) {
				t.Errorf("Rewrap() error = %v, want ErrUnknownPurpose", err)
			}
			if tt.kmsErr != nil && !errors.Is(err, tt.kmsErr) {
				t.Errorf("Rewrap() error = %v, want cause %v", err, tt.kmsErr)
			}
		})
	}
}

func TestLoadLocalCipher(t *testing.T) {
	ctx := context.Background()
	key := testKey(t)
	kms := &fakeKMS{}

	c, err := LoadLocalCipher(ctx, kms, fakeWrap(PurposeLocalKey, key))
	if err != nil {
		t.Fatalf("LoadLocalCipher() error = %v", err)
	}
	direct, _ := NewLocalCipher(key)
	sealed, _ := direct.Seal([]byte("v"), PurposeSecureToken)
	if _, err := c.Open(sealed, PurposeSecureToken); err != nil {
		t.Errorf("loaded cipher cannot open direct ciphertext: %v", err)
	}

	_, err = LoadLocalCipher(ctx, &fakeKMS{err: errors.New("AccessDenied")}, []byte("x"))
	if !errors.Is(err, ErrSecretRewrap) {
		t.Errorf("LoadLocalCipher() error = %v, want ErrSecretRewrap", err)
	}
}

type fakeKMSClient struct {
	input *kms.DecryptInput
	out   []byte
	err   error
}

func (f *fakeKMSClient) Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	return &kms.DecryptOutput{Plaintext: f.out}, nil
}

func TestAWSKMSDecrypt(t *testing.T) {
	ctx := context.Background()
	client := &fakeKMSClient{out: []byte("plain")}
	k := NewAWSKMSFromClient(client, "alias/cache")

	got, err := k.Decrypt(ctx, []byte("blob"), PurposeUserPasswordSalt)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if string(got) != "plain" {
		t.Errorf("Decrypt() = %q, want %q", got, "plain")
	}
	if aws.ToString(client.input.KeyId) != "alias/cache" {
		t.Errorf("KeyId = %q", aws.ToString(client.input.KeyId))
	}
	if client.input.EncryptionContext["purpose"] != "user-password-salt" {
		t.Errorf("EncryptionContext = %v", client.input.EncryptionContext)
	}

	noKey := NewAWSKMSFromClient(client, "")
	if _, err := noKey.Decrypt(ctx, []byte("blob"), PurposeSecureToken); err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if client.input.KeyId != nil {
		t.Errorf("KeyId = %v, want nil", client.input.KeyId)
	}

	if _, err := k.Decrypt(ctx, []byte("blob"), Purpose(99)); !errors.Is(err, ErrUnknownPurpose) {
		t.Errorf("Decrypt() error = %v, want ErrUnknownPurpose", err)
	}
	client.err = errors.New("KMSInternalException")
	if _, err := k.Decrypt(ctx, []byte("blob"), PurposeSecureToken); !errors.Is(err, client.err) {
		t.Errorf("Decrypt() error = %v", err)
	}
}
