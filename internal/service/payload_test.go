package service

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePayload(t *testing.T) {
	raw := "From: bob@remote.example\r\nTo: alice@tenant1.example\r\nSubject: hi\r\n\r\nbody\r\n"
	encoded := base64.StdEncoding.EncodeToString([]byte(raw))

	t.Run("base64 信封", func(t *testing.T) {
		got, err := DecodePayload("application/json", []byte(`{"rawEmail":"`+encoded+`"}`))
		require.NoError(t, err)
		assert.Equal(t, raw, string(got))
	})

	t.Run("base64 中含换行或缺少填充", func(t *testing.T) {
		wrapped := encoded[:20] + `\n` + encoded[20:]
		got, err := DecodePayload("application/json; charset=utf-8", []byte(`{"rawEmail":"`+wrapped+`"}`))
		require.NoError(t, err)
		assert.Equal(t, raw, string(got))

		unpadded := base64.RawStdEncoding.EncodeToString([]byte("Subject: x\r\n\r\nab"))
		got, err = DecodePayload("application/json", []byte(`{"rawEmail":"`+unpadded+`"}`))
		require.NoError(t, err)
		assert.Equal(t, "Subject: x\r\n\r\nab", string(got))
	})

	t.Run("email 字段为原文", func(t *testing.T) {
		got, err := DecodePayload("application/json", []byte(`{"email":"Subject: x\r\n\r\nbody"}`))
		require.NoError(t, err)
		assert.Equal(t, "Subject: x\r\n\r\nbody", string(got))
	})

	t.Run("直接提交原文", func(t *testing.T) {
		got, err := DecodePayload("message/rfc822", []byte(raw))
		require.NoError(t, err)
		assert.Equal(t, raw, string(got))

		got, err = DecodePayload("", []byte(raw))
		require.NoError(t, err)
		assert.Equal(t, raw, string(got))
	})

	t.Run("空内容或缺少字段", func(t *testing.T) {
		_, err := DecodePayload("application/json", nil)
		assert.ErrorIs(t, err, ErrEmptyPayload)
		_, err = DecodePayload("application/json", []byte(`{}`))
		assert.ErrorIs(t, err, ErrEmptyPayload)
		_, err = DecodePayload("application/json", []byte(`{"rawEmail":""}`))
		assert.ErrorIs(t, err, ErrEmptyPayload)
		_, err = DecodePayload("application/json", []byte(`{"email":null}`))
		assert.ErrorIs(t, err, ErrEmptyPayload)
	})

	t.Run("JSON 或 base64 非法", func(t *testing.T) {
		_, err := DecodePayload("application/json", []byte(`{"rawEmail":`))
		assert.ErrorIs(t, err, ErrInvalidPayload)
		_, err = DecodePayload("application/json", []byte(`{"rawEmail":"!!!not base64!!!"}`))
		assert.ErrorIs(t, err, ErrInvalidPayload)
	})
}
