package cache

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// KeyDelimiter separates the segments of a cache key
const KeyDelimiter = ":"

// Build joins prefix and parts with KeyDelimiter.
// The same parts in the same order always produce the same key.
func Build(prefix string, parts ...any) string {
	segments := make([]string, 0, len(parts)+1)
	segments = append(segments, prefix)
	for _, p := range parts {
		segments = append(segments, fmt.Sprint(p))
	}
	return strings.Join(segments, KeyDelimiter)
}

// APIResponseKey builds a key for an API response. Parameters are sorted by
// name so equivalent query strings in any order map to the same key. Names and
// values are query-escaped, so a value holding "&" or "=" cannot pose as
// another parameter.
// Format: api:<endpoint>:<k1=v1&k2=v2>
func APIResponseKey(endpoint string, params map[string]any) string {
	names := make([]string, 0, len(params))
	for k := range params {
		names = append(names, k)
	}
	sort.Strings(names)

	pairs := make([]string, 0, len(names))
	for _, k := range names {
		pairs = append(pairs, url.QueryEscape(k)+"="+url.QueryEscape(fmt.Sprint(params[k])))
	}
	return Build("api", endpoint, strings.Join(pairs, "&"))
}

// StringParams converts a flat string map for APIResponseKey
func StringParams(params map[string]string) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}

// UserScopedKey builds a key owned by one user
func UserScopedKey(userID string, parts ...any) string {
	return Build("user", append([]any{userID}, parts...)...)
}

// TemporaryKey builds a key that is unique on every call. It carries the
// current timestamp and a random suffix, so it never hits a previous entry.
func TemporaryKey(parts ...any) string {
	suffix := strconv.FormatInt(time.Now().UnixMilli(), 10) + "-" + uuid.NewString()[:8]
	return Build("temp", append(append([]any{}, parts...), suffix)...)
}
