package service

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"mime"
	"strings"
)

// webhookEnvelope JSON 信封，rawEmail 为 base64，email 为原文
type webhookEnvelope struct {
	RawEmail *string        `json:"rawEmail"`
	Email    json.RawMessage `json:"email"`
}

// DecodePayload 将 webhook 请求体还原为 RFC 5322 原文。
//
// 支持 JSON {rawEmail: base64}、JSON {email: 原文} 与直接提交的原文。
func DecodePayload(contentType string, body []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, ErrEmptyPayload
	}

	mediaType, _, _ := mime.ParseMediaType(contentType)
	isJSON := mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
	if !isJSON && trimmed[0] != '{' {
		return body, nil
	}

	var env webhookEnvelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		if isJSON {
			return nil, ErrInvalidPayload
		}
		return body, nil
	}

	var raw []byte
	switch {
	case env.RawEmail != nil:
		decoded, err := decodeBase64(*env.RawEmail)
		if err != nil {
			return nil, ErrInvalidPayload
		}
		raw = decoded
	case len(env.Email) > 0 && string(env.Email) != "null":
		var s string
		if err := json.Unmarshal(env.Email, &s); err == nil {
			raw = []byte(s)
		} else {
			raw = env.Email
		}
	default:
		return nil, ErrEmptyPayload
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, ErrEmptyPayload
	}
	return raw, nil
}

func decodeBase64(s string) ([]byte, error) {
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, s)
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}
