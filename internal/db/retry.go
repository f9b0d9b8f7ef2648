package db

import (
	"errors"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
)

// Operation is a single store write that may collide with a concurrent writer.
type Operation func() error

// IsDuplicateKeyError reports whether err is a unique-index violation.
type IsDuplicateKeyError func(err error) bool

const (
	DefaultMaxRetries = 3
	duplicateKeyCode  = 11000
)

// WithRetries runs op once plus up to maxRetries more times while it keeps
// failing with a duplicate key error. Any other error is returned at once.
// Upserts racing on the same unique key converge on the second attempt,
// because the loser then matches the winner's document.
func WithRetries(op Operation, maxRetries int, isDuplicateKey IsDuplicateKeyError) error {
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if !isDuplicateKey(err) {
			return err
		}
		if attempt < maxRetries {
			log.Printf("Warning: duplicate key on attempt %d, retrying: %v", attempt+1, err)
			time.Sleep(time.Duration(50*(attempt+1)) * time.Millisecond)
		}
	}
	return err
}

// IsMongoDuplicateKeyError checks for MongoDB error code 11000 in single,
// bulk and command errors.
func IsMongoDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	var we mongo.WriteException
	if errors.As(err, &we) {
		for _, e := range we.WriteErrors {
			if e.Code == duplicateKeyCode {
				return true
			}
		}
	}
	var bwe mongo.BulkWriteException
	if errors.As(err, &bwe) {
		for _, e := range bwe.WriteErrors {
			if e.Code == duplicateKeyCode {
				return true
			}
		}
	}
	var ce mongo.CommandError
	if errors.As(err, &ce) {
		return ce.Code == duplicateKeyCode
	}
	return false
}
