package messaging

import (
	"encoding/json"
	"strings"

	"github.com/glimte/mandate-go/contracts"
)

// FindData returns the value stored under key in the first data part that
// holds it.
func FindData(msg *contracts.Message, key string) (any, bool) {
	if msg == nil {
		return nil, false
	}
	for _, part := range msg.Parts {
		if part.Kind != contracts.PartKindData {
			continue
		}
		if v, ok := part.Data[key]; ok {
			return v, true
		}
	}
	return nil, false
}

// AllText joins every text part with a single space, in part order
func AllText(msg *contracts.Message) string {
	if msg == nil {
		return ""
	}
	texts := make([]string, 0, len(msg.Parts))
	for _, part := range msg.Parts {
		if part.Kind == contracts.PartKindText {
			texts = append(texts, part.Text)
		}
	}
	return strings.Join(texts, " ")
}

// DecodeData re-encodes the value under key into dst. A missing key or a
// value of the wrong shape is a validation error.
func DecodeData(msg *contracts.Message, key string, dst any) error {
	v, ok := FindData(msg, key)
	if !ok {
		return contracts.Validation("decode data", "missing data part %q", key)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return contracts.Validation("decode data", "encode %q: %v", key, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return contracts.Validation("decode data", "decode %q: %v", key, err)
	}
	return nil
}

// StringData returns the string stored under key
func StringData(msg *contracts.Message, key string) (string, bool) {
	v, ok := FindData(msg, key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// ReplyError returns the error carried by an error reply, or nil
func ReplyError(msg *contracts.Message) error {
	if _, ok := FindData(msg, contracts.KeyError); !ok {
		return nil
	}
	var info contracts.ErrorInfo
	if err := DecodeData(msg, contracts.KeyError, &info); err != nil {
		return err
	}
	return info.Err()
}
