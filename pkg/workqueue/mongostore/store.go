package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/dmitrymomot/workqueue/pkg/workqueue"
)

// DefaultCollection is the collection work items are stored in.
const DefaultCollection = "works"

// Option configures a Store.
type Option func(*Store)

// WithCollection overrides the collection name.
func WithCollection(name string) Option {
	return func(s *Store) {
		if name != "" {
			s.collection = name
		}
	}
}

// Store implements workqueue.Repository on MongoDB.
type Store struct {
	collection string
	coll       *mongo.Collection
}

var _ workqueue.Repository = (*Store)(nil)

// New creates a store over db.
func New(db *mongo.Database, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, ErrDatabaseNil
	}
	s := &Store{collection: DefaultCollection}
	for _, opt := range opts {
		opt(s)
	}
	s.coll = db.Collection(s.collection)
	return s, nil
}

// Collection returns the underlying collection.
func (s *Store) Collection() *mongo.Collection { return s.coll }

// EnsureIndexes creates the indexes allocation, scheduling, coalescing and
// recovery rely on. It is safe to call on every start.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	models := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "type", Value: 1}, {Key: "scheduled", Value: 1}},
			Options: options.Index().SetName("type_scheduled"),
		},
		{
			Keys:    bson.D{{Key: "started", Value: -1}, {Key: "priority", Value: -1}, {Key: "original_work_id", Value: 1}, {Key: "created", Value: 1}},
			Options: options.Index().SetName("default_sort"),
		},
		{
			Keys:    bson.D{{Key: "schedule_id", Value: 1}, {Key: "scheduled", Value: 1}},
			Options: options.Index().SetName("schedule_scheduled").SetSparse(true),
		},
		{
			Keys:    bson.D{{Key: "original_work_id", Value: 1}, {Key: "created", Value: -1}},
			Options: options.Index().SetName("original_created").SetSparse(true),
		},
		{
			Keys:    bson.D{{Key: "worker", Value: 1}, {Key: "started", Value: 1}},
			Options: options.Index().SetName("worker_started"),
		},
		{
			Keys: bson.D{{Key: "coalesce_key", Value: 1}},
			Options: options.Index().
				SetName("coalesce_key_unique").
				SetUnique(true).
				SetPartialFilterExpression(bson.D{{Key: "coalesce_key", Value: bson.D{{Key: "$exists", Value: true}}}}),
		},
	}
	if _, err := s.coll.Indexes().CreateMany(ctx, models); err != nil {
		return errors.Join(ErrFailedToCreateIndex, err)
	}
	return nil
}

func (s *Store) GetWork(ctx context.Context, id string) (*workqueue.Work, error) {
	var doc workDocument
	err := s.coll.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, workqueue.ErrWorkNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get work: %w", err)
	}
	return doc.toWork()
}

func (s *Store) FindWorks(ctx context.Context, filter workqueue.Filter, opts workqueue.FindOptions) ([]*workqueue.Work, error) {
	findOpts := options.Find().SetSort(sortDocument(opts.SortOrDefault()))
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Skip > 0 {
		findOpts.SetSkip(int64(opts.Skip))
	}

	cursor, err := s.coll.Find(ctx, filterQuery(filter), findOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to find works: %w", err)
	}
	var docs []workDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to read works: %w", err)
	}

	out := make([]*workqueue.Work, 0, len(docs))
	for i := range docs {
		w, err := docs[i].toWork()
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

func (s *Store) CountWorks(ctx context.Context, filter workqueue.Filter) (int64, error) {
	n, err := s.coll.CountDocuments(ctx, filterQuery(filter))
	if err != nil {
		return 0, fmt.Errorf("failed to count works: %w", err)
	}
	return n, nil
}

func (s *Store) CountByType(ctx context.Context, filter workqueue.Filter) (map[string]int64, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: filterQuery(filter)}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$type"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	}
	cursor, err := s.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to count works by type: %w", err)
	}
	var rows []struct {
		Type  string `bson:"_id"`
		Count int64  `bson:"count"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to read type counts: %w", err)
	}

	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.Type] = r.Count
	}
	return counts, nil
}

func (s *Store) InsertWork(ctx context.Context, w *workqueue.Work) error {
	if w == nil || w.ID == "" {
		return workqueue.ErrWorkNil
	}
	doc, err := toDocument(w)
	if err != nil {
		return err
	}
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return workqueue.ErrWorkExists
		}
		return fmt.Errorf("failed to insert work: %w", err)
	}
	return nil
}

func (s *Store) RescheduleWork(ctx context.Context, id string, scheduled time.Time) (*workqueue.Work, error) {
	update := bson.D{{Key: "$set", Value: bson.D{{Key: "scheduled", Value: scheduled}}}}
	return s.conditionalUpdate(ctx, id, []workqueue.Status{workqueue.StatusNew}, update)
}

func (s *Store) DeleteWork(ctx context.Context, id string, statuses []workqueue.Status, now time.Time) (*workqueue.Work, error) {
	update := bson.D{
		{Key: "$set", Value: bson.D{{Key: "deleted", Value: now}}},
		{Key: "$unset", Value: bson.D{{Key: "coalesce_key", Value: ""}}},
	}
	return s.conditionalUpdate(ctx, id, statuses, update)
}

func (s *Store) AllocateWork(ctx context.Context, p workqueue.AllocateParams) (*workqueue.Work, error) {
	update := bson.D{
		{Key: "$set", Value: bson.D{{Key: "started", Value: p.Now}, {Key: "worker", Value: p.WorkerID}}},
		{Key: "$unset", Value: bson.D{{Key: "coalesce_key", Value: ""}}},
	}
	opts := options.FindOneAndUpdate().
		SetSort(sortDocument(workqueue.DefaultSort)).
		SetReturnDocument(options.After)

	var doc workDocument
	err := s.coll.FindOneAndUpdate(ctx, filterQuery(p.Filter()), update, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, workqueue.ErrNoWorkToAllocate
	}
	if err != nil {
		return nil, fmt.Errorf("failed to allocate work: %w", err)
	}
	return doc.toWork()
}

func (s *Store) FinishWork(ctx context.Context, p workqueue.FinishParams) (*workqueue.Work, error) {
	set := bson.D{
		{Key: "finished", Value: p.Now},
		{Key: "success", Value: p.Outcome.Success},
	}
	unset := bson.D{{Key: "coalesce_key", Value: ""}}
	if p.WorkerID != "" {
		set = append(set, bson.E{Key: "worker", Value: p.WorkerID})
	}

	result, err := encodeMap(p.Outcome.Result)
	if err != nil {
		return nil, err
	}
	if result != nil {
		set = append(set, bson.E{Key: "result", Value: result})
	} else {
		unset = append(unset, bson.E{Key: "result", Value: ""})
	}
	errDoc, err := toErrorDocument(p.Outcome.Error)
	if err != nil {
		return nil, err
	}
	if errDoc != nil {
		set = append(set, bson.E{Key: "error", Value: errDoc})
	} else {
		unset = append(unset, bson.E{Key: "error", Value: ""})
	}

	filter := bson.D{{Key: "_id", Value: p.ID}, {Key: "finished", Value: nil}}
	update := bson.D{{Key: "$set", Value: set}, {Key: "$unset", Value: unset}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc workDocument
	err = s.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		w, getErr := s.GetWork(ctx, p.ID)
		if getErr != nil {
			return nil, getErr
		}
		return w, workqueue.ErrWorkAlreadyFinished
	}
	if err != nil {
		return nil, fmt.Errorf("failed to finish work: %w", err)
	}
	return doc.toWork()
}

// UpsertScheduledWork matches only unstarted, unfinished items with the tick
// id. When the id is held by a started or finished item the upsert collides
// on _id, which is reported as ErrScheduleSlotTaken.
func (s *Store) UpsertScheduledWork(ctx context.Context, w *workqueue.Work) (*workqueue.Work, bool, error) {
	doc, err := toDocument(w)
	if err != nil {
		return nil, false, err
	}

	filter := bson.D{
		{Key: "_id", Value: w.ID},
		{Key: "started", Value: bson.D{{Key: "$exists", Value: false}}},
		{Key: "finished", Value: bson.D{{Key: "$exists", Value: false}}},
	}
	set := bson.D{
		{Key: "input", Value: doc.Input},
		{Key: "search_text", Value: doc.SearchText},
		{Key: "retries", Value: doc.Retries},
		{Key: "timeout_ms", Value: doc.TimeoutMS},
	}
	onInsert := bson.D{
		{Key: "type", Value: doc.Type},
		{Key: "priority", Value: doc.Priority},
		{Key: "created", Value: doc.Created},
		{Key: "scheduled", Value: doc.Scheduled},
		{Key: "autoscheduled", Value: doc.Autoscheduled},
		{Key: "schedule_id", Value: doc.ScheduleID},
	}
	update := bson.D{
		{Key: "$set", Value: set},
		{Key: "$unset", Value: bson.D{{Key: "deleted", Value: ""}}},
		{Key: "$setOnInsert", Value: onInsert},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.Before)

	var before workDocument
	err = s.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&before)
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return w.Clone(), true, nil
	case mongo.IsDuplicateKeyError(err):
		return nil, false, workqueue.ErrScheduleSlotTaken
	case err != nil:
		return nil, false, fmt.Errorf("failed to upsert scheduled work: %w", err)
	}

	stored, err := before.toWork()
	if err != nil {
		return nil, false, err
	}
	stored.Input = w.Clone().Input
	stored.Retries = w.Retries
	stored.Timeout = w.Timeout
	stored.Deleted = nil
	return stored, false, nil
}

// CoalesceWork appends to the pending batch or inserts a new one. The
// partial unique index on coalesce_key turns a lost insert race into
// ErrWorkExists, which the coalescer retries as an append.
func (s *Store) CoalesceWork(ctx context.Context, p workqueue.CoalesceParams) (*workqueue.Work, bool, error) {
	filter := append(bson.D{{Key: "coalesce_key", Value: p.Key}}, statusQuery([]workqueue.Status{workqueue.StatusNew})...)
	path := "input." + p.Reference.EntityType + "." + p.Reference.Operation
	update := bson.D{
		{Key: "$addToSet", Value: bson.D{{Key: path, Value: bson.D{{Key: "$each", Value: p.Reference.IDs}}}}},
		{Key: "$set", Value: bson.D{{Key: "scheduled", Value: p.Scheduled}}},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc workDocument
	err := s.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if err == nil {
		w, err := doc.toWork()
		if err != nil {
			return nil, false, err
		}
		// search_text lags the append by one round trip; it only serves free-text search
		if _, err := s.coll.UpdateOne(ctx,
			bson.D{{Key: "_id", Value: w.ID}},
			bson.D{{Key: "$set", Value: bson.D{{Key: "search_text", Value: workqueue.SearchText(w.Input)}}}},
		); err != nil {
			return nil, false, fmt.Errorf("failed to refresh search text: %w", err)
		}
		return w, false, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, fmt.Errorf("failed to coalesce work: %w", err)
	}

	w := workqueue.NewCoalescedWork(p)
	if err := s.InsertWork(ctx, w); err != nil {
		return nil, false, err
	}
	return w, true, nil
}

func (s *Store) ReportCounts(ctx context.Context, filter workqueue.ReportFilter) ([]workqueue.StatusCount, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: filterQuery(filter.Filter())}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: bson.D{
				{Key: "type", Value: "$type"},
				{Key: "status", Value: statusExpr()},
			}},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	}
	cursor, err := s.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate report: %w", err)
	}
	var rows []struct {
		Key struct {
			Type   string `bson:"type"`
			Status string `bson:"status"`
		} `bson:"_id"`
		Count int64 `bson:"count"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to read report: %w", err)
	}

	out := make([]workqueue.StatusCount, 0, len(rows))
	for _, r := range rows {
		out = append(out, workqueue.StatusCount{Type: r.Key.Type, Status: workqueue.Status(r.Key.Status), Count: r.Count})
	}
	return out, nil
}

// conditionalUpdate applies update when the item is in one of statuses and
// tells a missing item apart from one in the wrong state.
func (s *Store) conditionalUpdate(ctx context.Context, id string, statuses []workqueue.Status, update bson.D) (*workqueue.Work, error) {
	filter := bson.D{{Key: "_id", Value: id}}
	if len(statuses) > 0 {
		filter = bson.D{{Key: "$and", Value: bson.A{filter, statusQuery(statuses)}}}
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc workDocument
	err := s.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		if _, getErr := s.GetWork(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, workqueue.ErrInvalidWorkState
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update work: %w", err)
	}
	return doc.toWork()
}
