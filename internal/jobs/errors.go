package jobs

import "errors"

var (
	ErrJobNotFound         = errors.New("jobs: job not found")
	ErrBM25RetrainActive   = errors.New("jobs: a bm25_retrain job is already pending or running")
	ErrBM25RetrainCooldown = errors.New("jobs: bm25_retrain is in its post-completion cooldown window")
	ErrNoHandler           = errors.New("jobs: no handler registered for job type")
)
