package constants

import "time"

const (
	// SearchSessionTTL 搜索会话（黄金结果集）缓存时长
	SearchSessionTTL = 30 * time.Minute

	// SearchLockTTL 搜索分布式锁的过期时间，防止崩溃后锁永久残留
	SearchLockTTL = 5 * time.Minute

	// IngestSourceUpload 候选人数据来源：接口上传
	IngestSourceUpload = "upload"
	// IngestSourceImport 候选人数据来源：批量导入
	IngestSourceImport = "import"
	// IngestSourceReindex 候选人数据来源：全量重建索引
	IngestSourceReindex = "reindex"
)
