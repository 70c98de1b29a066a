package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	t.Run("包装后仍能识别类别", func(t *testing.T) {
		base := NotFound("message not found")
		wrapped := fmt.Errorf("load: %w", base)

		assert.Equal(t, KindNotFound, KindOf(wrapped))
		assert.True(t, Is(wrapped, KindNotFound))
		assert.True(t, errors.Is(wrapped, base))
	})

	t.Run("普通错误归为未知", func(t *testing.T) {
		assert.Equal(t, KindUnknown, KindOf(errors.New("boom")))
		assert.False(t, Is(nil, KindUnknown))
	})

	t.Run("聚合错误中的下游失败可被识别", func(t *testing.T) {
		cause := errors.New("connection reset")
		joined := errors.Join(Downstream("upload a.txt", cause), Downstream("upload b.txt", cause))

		assert.True(t, Is(joined, KindDownstream))
		assert.ErrorIs(t, joined, cause)
		assert.Contains(t, joined.Error(), "upload b.txt")
	})
}
