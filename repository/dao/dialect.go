package dao

import (
	"fmt"
	"strings"
)

// Dialect 各数据库之间有差异的SQL片段
type Dialect interface {
	// Name 方言名称
	Name() string
	// ModPredicate 返回 "column mod ? = ?" 形式的条件，参数依次为除数和余数
	ModPredicate(column string) string
	// SupportsReturning 是否支持 UPDATE ... RETURNING
	SupportsReturning() bool
}

// DefaultDialect 无法识别数据库时使用的方言
const DefaultDialect = "generic"

type modFuncDialect struct {
	name      string
	returning bool
}

func (d modFuncDialect) Name() string { return d.name }

func (d modFuncDialect) ModPredicate(column string) string {
	return fmt.Sprintf("mod(%s, ?) = ?", column)
}

func (d modFuncDialect) SupportsReturning() bool { return d.returning }

type modOpDialect struct {
	name      string
	returning bool
}

func (d modOpDialect) Name() string { return d.name }

func (d modOpDialect) ModPredicate(column string) string {
	return fmt.Sprintf("%s %% ? = ?", column)
}

func (d modOpDialect) SupportsReturning() bool { return d.returning }

var dialects = map[string]Dialect{
	"postgres":     modFuncDialect{name: "postgres", returning: true},
	"mysql":        modFuncDialect{name: "mysql"},
	"oracle":       modFuncDialect{name: "oracle"},
	"db2":          modFuncDialect{name: "db2"},
	"derby":        modFuncDialect{name: "derby"},
	"h2":           modFuncDialect{name: "h2"},
	"sqlite":       modOpDialect{name: "sqlite", returning: true},
	"sqlserver":    modOpDialect{name: "sqlserver"},
	DefaultDialect: modFuncDialect{name: DefaultDialect},
}

// 数据库产品名中的关键字到方言的映射，按顺序匹配
var productKeywords = []struct {
	keyword string
	dialect string
}{
	{"postgres", "postgres"},
	{"mysql", "mysql"},
	{"mariadb", "mysql"},
	{"sqlite", "sqlite"},
	{"sqlserver", "sqlserver"},
	{"sql server", "sqlserver"},
	{"oracle", "oracle"},
	{"db2", "db2"},
	{"derby", "derby"},
	{"h2", "h2"},
}

// DetectDialect 根据数据库产品名选择方言，无法识别时返回通用方言
func DetectDialect(productName string) Dialect {
	name := strings.ToLower(strings.TrimSpace(productName))
	if name == "" {
		return dialects[DefaultDialect]
	}

	for _, pk := range productKeywords {
		if strings.Contains(name, pk.keyword) {
			return dialects[pk.dialect]
		}
	}
	return dialects[DefaultDialect]
}

// LookupDialect 按名称查找方言
func LookupDialect(name string) (Dialect, bool) {
	d, ok := dialects[strings.ToLower(name)]
	return d, ok
}
