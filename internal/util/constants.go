package util

const (
	DateFormat = "2006-01-02"
	TimeFormat = "2006-01-02 15:04:05"
)

const (
	StorageLocal = "local"
	StorageMinio = "minio"
	StorageOSS   = "oss"
)

const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

// 错误原因，返回给前端用于区分“可重试”和“终态”
const (
	ReasonValidation       = "validation"
	ReasonAlreadyCompleted = "already_completed"
	ReasonNotAvailable     = "not_available"
	ReasonNotEnrolled      = "not_enrolled"
	ReasonForbidden        = "forbidden"
	ReasonNotFound         = "not_found"
	ReasonIntegrity        = "integrity"
	ReasonNotGradable      = "not_manually_gradable"
	ReasonTransient        = "transient"
	ReasonInternal         = "internal"
)
