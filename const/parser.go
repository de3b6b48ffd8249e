package _const

import (
	"github.com/robfig/cron/v3"
)

// Parser 维护任务的调度周期解析器，支持"@every 5s"之类的描述符
var Parser = cron.NewParser(cron.Minute | cron.Hour |
	cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
