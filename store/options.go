package store

import (
	"time"

	"github.com/maxpert/livestore/cfg"
	"github.com/maxpert/livestore/db"
	"github.com/maxpert/livestore/notify"
	"github.com/maxpert/livestore/pull"
)

// Options configure a Store
type Options struct {
	// Path is the SQLite database file
	Path string
	DB   db.Options

	CacheEnabled bool
	CacheSize    int

	// Workers bounds concurrent live query re-evaluations
	Workers             int
	ReEvaluationTimeout time.Duration

	PullBatchSize  int
	WriteQueueSize int

	// ErrorSink receives listener and handler failures; defaults to logging
	ErrorSink notify.ErrorSink
}

// DefaultOptions returns options for a database at path
func DefaultOptions(path string) Options {
	return Options{
		Path:           path,
		DB:             db.DefaultOptions(),
		CacheEnabled:   true,
		CacheSize:      10000,
		Workers:        4,
		PullBatchSize:  pull.DefaultBatchSize,
		WriteQueueSize: 256,
	}
}

// OptionsFromConfig maps the daemon configuration onto store options
func OptionsFromConfig(c *cfg.Configuration) Options {
	return Options{
		Path: cfg.DBPath(),
		DB: db.Options{
			PoolSize:    c.Store.PoolSize,
			BusyTimeout: time.Duration(c.Store.BusyTimeoutMS) * time.Millisecond,
			ForeignKeys: true,
		},
		CacheEnabled:        c.Store.CacheEnabled,
		CacheSize:           c.Store.CacheSize,
		Workers:             c.LiveQuery.Workers,
		ReEvaluationTimeout: time.Duration(c.LiveQuery.ReEvaluationTimeoutMS) * time.Millisecond,
		PullBatchSize:       c.Pull.BatchSize,
		WriteQueueSize:      c.WriteExecutor.QueueSize,
	}
}
