// Package migrations 内嵌 PostgreSQL 与 MySQL 的建表脚本，供 cmd/migrate 使用。
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

//go:embed postgres/*.sql mysql/*.sql
var files embed.FS

// 迁移方向
const (
	Up   = "up"
	Down = "down"
)

// Script 一个迁移脚本
type Script struct {
	Name string
	SQL  string
}

// Load 按方向读取指定数据库的全部脚本。
// up 按文件名升序，down 按降序。
func Load(dialect, direction string) ([]Script, error) {
	if dialect != "postgres" && dialect != "mysql" {
		return nil, fmt.Errorf("unsupported database type %q", dialect)
	}
	if direction != Up && direction != Down {
		return nil, fmt.Errorf("unsupported direction %q", direction)
	}

	names, err := fs.Glob(files, fmt.Sprintf("%s/*.%s.sql", dialect, direction))
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	if direction == Down {
		sort.Sort(sort.Reverse(sort.StringSlice(names)))
	}

	scripts := make([]Script, 0, len(names))
	for _, name := range names {
		data, err := files.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		scripts = append(scripts, Script{Name: name, SQL: string(data)})
	}
	return scripts, nil
}

// Split 按分号拆分语句，忽略引号内的分号与纯注释行
func Split(script string) []string {
	var (
		statements []string
		current    strings.Builder
		inString   bool
		quote      rune
	)

	flush := func() {
		if stmt := stripComments(current.String()); stmt != "" {
			statements = append(statements, stmt)
		}
		current.Reset()
	}

	for _, r := range script {
		switch {
		case r == '\'' || r == '"' || r == '`':
			if !inString {
				inString, quote = true, r
			} else if r == quote {
				inString = false
			}
		case r == ';' && !inString:
			flush()
			continue
		}
		current.WriteRune(r)
	}
	flush()
	return statements
}

func stripComments(stmt string) string {
	var lines []string
	for _, line := range strings.Split(stmt, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		lines = append(lines, line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
