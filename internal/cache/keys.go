package cache

import "fmt"

func ResultKey(jobID string) string {
	return fmt.Sprintf("result:%s", jobID)
}

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}
