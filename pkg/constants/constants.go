package constants

type contextKey string

const (
	LoggerKey    contextKey = "logger"
	TxKey        contextKey = "tx"
	PoolKey      contextKey = "pool"
	RequestIDKey contextKey = "request_id"
)
