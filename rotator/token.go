package rotator

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// record is the view of a key record the rotator cares about. Maps and structs decode into it
// with case-insensitive field matching.
type record struct {
	ID  string `mapstructure:"id"`
	Key string `mapstructure:"key"`
}

// ExtractToken returns the secret carried by a key record. Strings are the token themselves;
// maps and structs give their "key" attribute; anything else falls back to its String method.
func ExtractToken(rec any) (string, error) {
	switch v := rec.(type) {
	case nil:
		return "", &EmptyKeySetError{Reason: "key record is nil"}
	case string:
		return nonBlank(v)
	case []byte:
		return nonBlank(string(v))
	}

	var r record
	if err := mapstructure.Decode(rec, &r); err == nil && r.Key != "" {
		return r.Key, nil
	}

	if s, ok := rec.(fmt.Stringer); ok {
		return nonBlank(s.String())
	}
	return "", &EmptyKeySetError{Reason: fmt.Sprintf("key record of type %T carries no token", rec)}
}

// recordID is the id of a key record, empty when it has none.
func recordID(rec any) string {
	var r record
	if err := mapstructure.Decode(rec, &r); err != nil {
		return ""
	}
	return r.ID
}

func nonBlank(token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return "", &EmptyKeySetError{Reason: "key record is blank"}
	}
	return token, nil
}
