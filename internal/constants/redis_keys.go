package constants

// Redis Key 前缀和格式常量
// 使用统一的命名规范: app:{module}:{entity}:{unique_id}
const (
	// AppPrefix 是所有Redis Key的统一应用前缀
	AppPrefix = "app"

	// SearchModulePrefix 搜索模块
	SearchModulePrefix = "search"

	// EntitySession 搜索会话实体
	EntitySession = "session"
	// EntityLock 分布式锁实体
	EntityLock = "lock"

	// KeySearchSession 搜索会话缓存 (ZSET，成员为序列化的匹配结果，分数为排名序)
	// 格式: app:search:session:{queryHash}
	KeySearchSession = AppPrefix + ":" + SearchModulePrefix + ":" + EntitySession + ":%s"

	// KeySearchLock 搜索分布式锁 (STRING)
	// 格式: app:search:lock:{queryHash}
	KeySearchLock = AppPrefix + ":" + SearchModulePrefix + ":" + EntityLock + ":%s"
)
