package model

// Tables 需要自动迁移的全部模型
func Tables() []interface{} {
	return []interface{}{
		&User{},
		&Message{},
		&Reaction{},
		&PushSubscription{},
	}
}
