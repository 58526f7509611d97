package progress

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewJobID generates an identifier like "job_1718035200123_1a2b3c4d":
// URL-safe, unique per submission, hard enough to guess that jobs don't
// collide casually. It is a routing key, not a secret — authorization is
// enforced per request.
func NewJobID() string {
	return fmt.Sprintf("job_%d_%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}
