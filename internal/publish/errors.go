package publish

import "fmt"

// UploadError reports that an artifact could not be written to the bucket
type UploadError struct {
	Bucket   string
	Key      string
	Attempts int
	Err      error
}

func (e *UploadError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("failed to upload %s/%s after %d attempts: %v", e.Bucket, e.Key, e.Attempts, e.Err)
	}

	return fmt.Sprintf("failed to upload %s/%s: %v", e.Bucket, e.Key, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }
