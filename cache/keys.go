package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"reflect"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// MaxKeyLength is the longest key memcached accepts.
const MaxKeyLength = 250

// MaxPrefixLength and MaxComponentLength bound the escaped prefix and
// component tag so a hashed key always fits in MaxKeyLength.
const (
	MaxPrefixLength    = 64
	MaxComponentLength = 64
)

// Keys composes backend keys of the form
//
//	{prefix}_{schemaVersion}_{component}_{logicalID}
//
// Every part is escaped so that '_' only ever appears as a separator, which
// keeps distinct (component, logicalID) pairs distinct. A logical id that
// would push the key past MaxKeyLength is replaced by '~' and the hex SHA-256
// of the id; '~' is always escaped in the plain form. A component over
// MaxComponentLength is folded into the hash as well.
type Keys struct {
	prefix  string
	version int
}

// NewKeys returns a composer for one deployment prefix and cache-schema version.
func NewKeys(prefix string, version int) (Keys, error) {
	if prefix == "" {
		return Keys{}, errors.New("cache: key prefix is required")
	}
	if err := checkVersion(version); err != nil {
		return Keys{}, err
	}
	escaped := escapeKeyPart(prefix)
	if len(escaped) > MaxPrefixLength {
		return Keys{}, errors.Newf("cache: key prefix is %d bytes escaped, max %d", len(escaped), MaxPrefixLength)
	}
	return Keys{prefix: escaped, version: version}, nil
}

func checkVersion(version int) error {
	if version < 1 {
		return errors.Newf("cache: schema version must be >= 1, got %d", version)
	}
	return nil
}

// Prefix returns the escaped deployment prefix.
func (k Keys) Prefix() string { return k.prefix }

// Version returns the cache-schema version.
func (k Keys) Version() int { return k.version }

// WithSchemaVersion returns a composer for the same prefix at another schema version.
func (k Keys) WithSchemaVersion(version int) (Keys, error) {
	if err := checkVersion(version); err != nil {
		return Keys{}, err
	}
	return Keys{prefix: k.prefix, version: version}, nil
}

// Compose returns the backend key for logicalID under component.
func (k Keys) Compose(component, logicalID string) string {
	head := k.prefix + "_" + strconv.Itoa(k.version) + "_"
	escaped := escapeKeyPart(component)
	if len(escaped) > MaxComponentLength {
		sum := sha256.Sum256([]byte(strconv.Itoa(len(component)) + ":" + component + logicalID))
		return head + "~_~" + hex.EncodeToString(sum[:])
	}
	head += escaped + "_"
	key := head + escapeKeyPart(logicalID)
	if len(key) <= MaxKeyLength {
		return key
	}
	sum := sha256.Sum256([]byte(logicalID))
	return head + "~" + hex.EncodeToString(sum[:])
}

const upperhex = "0123456789ABCDEF"

func needsEscape(b byte) bool {
	return b == '%' || b == '_' || b == '~' || b <= ' ' || b >= 0x7f
}

// escapeKeyPart percent-encodes separators and every byte memcached rejects.
func escapeKeyPart(s string) string {
	n := 0
	for i := 0; i < len(s); i++ {
		if needsEscape(s[i]) {
			n++
		}
	}
	if n == 0 {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 2*n)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if needsEscape(c) {
			b.WriteByte('%')
			b.WriteByte(upperhex[c>>4])
			b.WriteByte(upperhex[c&15])
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// LogicalID is the set of identifier types a cache can be keyed by.
type LogicalID interface {
	~string | ~int | ~int32 | ~int64 | ~uint | ~uint32 | ~uint64
}

// FormatID renders a logical id as the string used in its key. Named types are
// formatted by their underlying kind; String methods are ignored.
func FormatID[K LogicalID](id K) string {
	v := reflect.ValueOf(id)
	switch v.Kind() {
	case reflect.String:
		return v.String()
	case reflect.Int, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(v.Int(), 10)
	default:
		return strconv.FormatUint(v.Uint(), 10)
	}
}
