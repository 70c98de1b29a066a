package migrations

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	for _, dialect := range []string{"postgres", "mysql"} {
		t.Run(dialect+" 建表脚本完整", func(t *testing.T) {
			scripts, err := Load(dialect, Up)
			require.NoError(t, err)
			require.NotEmpty(t, scripts)

			all := scripts[0].SQL
			for _, table := range []string{"users", "domains", "email_addresses", "inboxes", "messages", "attachments", "thread_keys"} {
				assert.Contains(t, all, "CREATE TABLE IF NOT EXISTS "+table+" ")
			}
		})

		t.Run(dialect+" 回滚脚本", func(t *testing.T) {
			scripts, err := Load(dialect, Down)
			require.NoError(t, err)
			require.NotEmpty(t, scripts)
			assert.True(t, strings.HasSuffix(scripts[0].Name, ".down.sql"))
		})
	}

	t.Run("不支持的数据库", func(t *testing.T) {
		_, err := Load("oracle", Up)
		assert.Error(t, err)
	})

	t.Run("不支持的方向", func(t *testing.T) {
		_, err := Load("postgres", "sideways")
		assert.Error(t, err)
	})
}

func TestSplit(t *testing.T) {
	t.Run("按分号拆分并去掉注释", func(t *testing.T) {
		stmts := Split("-- header\nCREATE TABLE a (id INT);\n\nCREATE TABLE b (id INT);\n")
		require.Len(t, stmts, 2)
		assert.Equal(t, "CREATE TABLE a (id INT)", stmts[0])
		assert.Equal(t, "CREATE TABLE b (id INT)", stmts[1])
	})

	t.Run("引号内分号不拆分", func(t *testing.T) {
		stmts := Split("INSERT INTO t VALUES ('a;b');")
		require.Len(t, stmts, 1)
		assert.Equal(t, "INSERT INTO t VALUES ('a;b')", stmts[0])
	})

	t.Run("末尾无分号", func(t *testing.T) {
		stmts := Split("SELECT 1")
		assert.Equal(t, []string{"SELECT 1"}, stmts)
	})

	t.Run("真实脚本语句数", func(t *testing.T) {
		scripts, err := Load("postgres", Down)
		require.NoError(t, err)
		assert.Len(t, Split(scripts[0].SQL), 7)
	})
}
