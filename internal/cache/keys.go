package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func JobKey(jobID uuid.UUID) string {
	return fmt.Sprintf("job:%s", jobID)
}

// RateLimitKey identifies the counter for one fixed window of (user, endpoint).
func RateLimitKey(userID uuid.UUID, endpoint string, windowStart int64) string {
	return fmt.Sprintf("ratelimit:%s:%s:%d", userID, endpoint, windowStart)
}
