package main

import (
	"context"
	"database/sql"
	"time"

	"github.com/graph-gophers/dataloader/v7"

	"gitea.kood.tech/petrkubec/peerconnect/similarity"
)

// DataLoaderContextKey is the key used to store dataloaders in context
type DataLoaderContextKey string

const dataLoaderKey DataLoaderContextKey = "dataloader"

const loaderWait = 16 * time.Millisecond

// DataLoaders batches per-user lookups issued concurrently within one request.
type DataLoaders struct {
	UserLoader     *dataloader.Loader[int, *userRecord]
	ActivityLoader *dataloader.Loader[int, []similarity.ActivityRef]
}

// NewDataLoaders creates new dataloaders with the database connection
func NewDataLoaders(db *sql.DB) *DataLoaders {
	return &DataLoaders{
		UserLoader: dataloader.NewBatchedLoader(userBatchFn(db),
			dataloader.WithWait[int, *userRecord](loaderWait)),
		ActivityLoader: dataloader.NewBatchedLoader(activityBatchFn(db),
			dataloader.WithWait[int, []similarity.ActivityRef](loaderWait)),
	}
}

// loadersFrom returns the request's loaders, or fresh ones when the handler
// runs outside DataLoaderMiddleware.
func loadersFrom(ctx context.Context, db *sql.DB) *DataLoaders {
	if dl, ok := ctx.Value(dataLoaderKey).(*DataLoaders); ok {
		return dl
	}
	return NewDataLoaders(db)
}

// WithDataLoaders adds dataloaders to context
func WithDataLoaders(ctx context.Context, dl *DataLoaders) context.Context {
	return context.WithValue(ctx, dataLoaderKey, dl)
}

// userBatchFn resolves a batch of user ids in one query. Unknown ids fail
// with errUserNotFound.
func userBatchFn(db *sql.DB) dataloader.BatchFunc[int, *userRecord] {
	return func(ctx context.Context, keys []int) []*dataloader.Result[*userRecord] {
		results := make([]*dataloader.Result[*userRecord], len(keys))

		users, err := loadUsers(ctx, db, keys)
		for i, key := range keys {
			switch u, ok := users[key]; {
			case err != nil:
				results[i] = &dataloader.Result[*userRecord]{Error: err}
			case !ok:
				results[i] = &dataloader.Result[*userRecord]{Error: errUserNotFound}
			default:
				results[i] = &dataloader.Result[*userRecord]{Data: u}
			}
		}
		return results
	}
}

// activityBatchFn resolves the activity lists of a batch of users in one
// query. Users with no activities get an empty list.
func activityBatchFn(db *sql.DB) dataloader.BatchFunc[int, []similarity.ActivityRef] {
	return func(ctx context.Context, keys []int) []*dataloader.Result[[]similarity.ActivityRef] {
		results := make([]*dataloader.Result[[]similarity.ActivityRef], len(keys))

		byUser, err := loadActivitiesForUsers(ctx, db, keys)
		for i, key := range keys {
			if err != nil {
				results[i] = &dataloader.Result[[]similarity.ActivityRef]{Error: err}
				continue
			}
			acts := byUser[key]
			if acts == nil {
				acts = []similarity.ActivityRef{}
			}
			results[i] = &dataloader.Result[[]similarity.ActivityRef]{Data: acts}
		}
		return results
	}
}
