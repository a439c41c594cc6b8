// Package file stores export artifacts under slash-separated keys.
//
// Two Storage implementations are provided. S3Storage talks to Amazon S3 or
// any S3-compatible service through aws-sdk-go-v2. LocalStorage writes into a
// directory and is meant for development and tests.
//
//	store, err := file.NewS3Storage(ctx, file.S3Config{
//	    Bucket: "exports",
//	    Region: "eu-central-1",
//	    Prefix: "workqueue",
//	})
//	obj, err := store.Put(ctx, "2025/03/10/queue.json", body, "application/json")
//
// Keys are cleaned with CleanKey; anything that would escape the root returns
// ErrInvalidPath. S3 failures are classified onto the package sentinels
// (ErrAccessDenied, ErrBucketNotFound, ...) while the original smithy error
// stays in the chain, so ErrorCode(err) still yields the S3 error code.
package file
