package storage

import "github.com/google/uuid"

// GenerateUUID returns a random UUID v4 string, used as the external
// review_id for jobs.
func GenerateUUID() string {
	return uuid.NewString()
}
