package _const

// JobType 续体类型，执行器按类型注册
type JobType string

const (
	JobTypeTimer          JobType = "TIMER"           // 定时器到期
	JobTypeResume         JobType = "RESUME"          // 恢复流程实例
	JobTypeInvokeInternal JobType = "INVOKE_INTERNAL" // 引擎内部调用
	JobTypeInvokeResponse JobType = "INVOKE_RESPONSE" // 伙伴回复投递
	JobTypeMatcher        JobType = "MATCHER"         // 关联消息匹配
	JobTypeInvokeCheck    JobType = "INVOKE_CHECK"    // 调用超时检查
)

func (t JobType) String() string {
	return string(t)
}

// JobTypes 所有内置的续体类型
func JobTypes() []JobType {
	return []JobType{
		JobTypeTimer,
		JobTypeResume,
		JobTypeInvokeInternal,
		JobTypeInvokeResponse,
		JobTypeMatcher,
		JobTypeInvokeCheck,
	}
}
