package cache

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// KeySeparator defines the delimiter used between cache key segments.
const KeySeparator = "::"

// defaultKeySerializer renders record keys as readable strings.
// Distinct comparable keys always render differently: strings nested in
// composites are quoted, unexported struct fields are included, pointers
// render by address and values held in interfaces carry their type.
type defaultKeySerializer struct{}

// NewDefaultKeySerializer creates a new instance of the default key serializer.
func NewDefaultKeySerializer() KeySerializer {
	return &defaultKeySerializer{}
}

// SerializeKey joins namespace and the rendered key.
func (s *defaultKeySerializer) SerializeKey(namespace string, key any) string {
	if key == nil {
		return namespace + KeySeparator + "nil"
	}
	return namespace + KeySeparator + s.serializeValue(reflect.ValueOf(key), true)
}

// serializeValue works on reflect.Value so unexported fields, which cannot be
// turned back into interfaces, are rendered too.
func (s *defaultKeySerializer) serializeValue(rv reflect.Value, top bool) string {
	switch rv.Kind() {
	case reflect.Invalid:
		return "nil"
	case reflect.String:
		if top {
			return rv.String()
		}
		return strconv.Quote(rv.String())
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(rv.Uint(), 10)
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(rv.Float(), 'g', -1, rv.Type().Bits())
	case reflect.Complex64, reflect.Complex128:
		return strconv.FormatComplex(rv.Complex(), 'g', -1, rv.Type().Bits())
	case reflect.Ptr, reflect.Chan, reflect.UnsafePointer:
		if rv.IsNil() {
			return "nil"
		}
		// pointer keys compare by identity
		return "ptr:0x" + strconv.FormatUint(uint64(rv.Pointer()), 16)
	case reflect.Interface:
		if rv.IsNil() {
			return "nil"
		}
		elem := rv.Elem()
		return typeName(elem.Type()) + "(" + s.serializeValue(elem, false) + ")"
	case reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return s.serializeBytes(rv)
		}
		parts := make([]string, rv.Len())
		for i := range parts {
			parts[i] = s.serializeValue(rv.Index(i), false)
		}
		return fmt.Sprintf("array[%d]:{%s}", rv.Len(), strings.Join(parts, ","))
	case reflect.Struct:
		return s.serializeStruct(rv)
	}

	if top && rv.CanInterface() {
		return s.jsonFallback(rv.Interface())
	}
	return fmt.Sprintf("%s:%v", rv.Type(), rv)
}

// serializeBytes renders byte arrays as hex. Sixteen byte arrays use the UUID
// layout, which is what they almost always are.
func (s *defaultKeySerializer) serializeBytes(rv reflect.Value) string {
	raw := make([]byte, rv.Len())
	for i := range raw {
		raw[i] = byte(rv.Index(i).Uint())
	}
	encoded := hex.EncodeToString(raw)
	if len(raw) != 16 {
		return "hex:" + encoded
	}
	return encoded[0:8] + "-" + encoded[8:12] + "-" + encoded[12:16] + "-" + encoded[16:20] + "-" + encoded[20:]
}

// serializeStruct renders every field, exported or not, in declaration order.
func (s *defaultKeySerializer) serializeStruct(rv reflect.Value) string {
	rt := rv.Type()
	parts := make([]string, 0, rv.NumField())
	for i := 0; i < rv.NumField(); i++ {
		parts = append(parts, rt.Field(i).Name+":"+s.serializeValue(rv.Field(i), false))
	}
	return fmt.Sprintf("struct:{%s}", strings.Join(parts, ","))
}

func (s *defaultKeySerializer) jsonFallback(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("fallback:%T:%v", v, v)
	}
	return "json:" + string(data)
}

func typeName(t reflect.Type) string {
	if t.Name() != "" && t.PkgPath() != "" {
		return t.PkgPath() + "." + t.Name()
	}
	return t.String()
}

// hashedKeySerializer keeps keys under a length limit for backends that
// reject long keys. Short keys pass through untouched so they stay readable.
type hashedKeySerializer struct {
	inner  KeySerializer
	maxLen int
}

// NewHashedKeySerializer wraps inner and replaces the key part of any key longer
// than maxLen with its xxhash digest. The namespace prefix is preserved so
// prefix invalidation keeps working.
func NewHashedKeySerializer(inner KeySerializer, maxLen int) KeySerializer {
	if inner == nil {
		inner = NewDefaultKeySerializer()
	}
	return &hashedKeySerializer{inner: inner, maxLen: maxLen}
}

func (s *hashedKeySerializer) SerializeKey(namespace string, key any) string {
	full := s.inner.SerializeKey(namespace, key)
	if s.maxLen <= 0 || len(full) <= s.maxLen {
		return full
	}
	rest := strings.TrimPrefix(full, Prefix(namespace))
	return Prefix(namespace) + "xxh:" + strconv.FormatUint(xxhash.Sum64String(rest), 16)
}
