package rediskey

import "fmt"

const (
	GrowthPrefix = "growth"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// AntifraudInvalidateChannel is the pub/sub channel used to drop cached
// antifraud configs on every instance after an edit.
func AntifraudInvalidateChannel() string {
	return NamespaceKey(GrowthPrefix, "antifraud:invalidate")
}
