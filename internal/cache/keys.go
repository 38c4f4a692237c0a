package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func StatusSnapshotKey(contentID uuid.UUID) string {
	return fmt.Sprintf("sermonscribe:status:%s", contentID)
}

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("sermonscribe:ratelimit:%s", keyPrefix)
}
