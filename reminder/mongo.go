package reminder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection names used by MongoStore.
const (
	RemindersCollection = "reminders"
	AttemptsCollection  = "dispatch_attempts"
)

// MongoStore implements the Store interface on MongoDB. Conditional updates replace the
// document filtered by its version.
type MongoStore struct {
	reminders *mongo.Collection
	attempts  *mongo.Collection
}

// NewMongoStore creates a store on the given database
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		reminders: db.Collection(RemindersCollection),
		attempts:  db.Collection(AttemptsCollection),
	}
}

// EnsureIndexes creates the indexes the due query and listings rely on.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.reminders.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "dueAt", Value: 1}}},
		{Keys: bson.D{{Key: "ownerId", Value: 1}, {Key: "triggerAt", Value: 1}}},
		{Keys: bson.D{{Key: "assignmentId", Value: 1}}, Options: options.Index().SetSparse(true)},
	})
	if err != nil {
		return fmt.Errorf("failed to create reminder indexes: %w", err)
	}
	_, err = s.attempts.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "reminderId", Value: 1}, {Key: "timestamp", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create attempt indexes: %w", err)
	}
	return nil
}

// CreateReminder implements Store.CreateReminder
func (s *MongoStore) CreateReminder(ctx context.Context, r *Reminder) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	r.Version = 1

	_, err := s.reminders.InsertOne(ctx, r)
	return storeErr("create", err)
}

// GetReminder implements Store.GetReminder
func (s *MongoStore) GetReminder(ctx context.Context, id string) (*Reminder, error) {
	var r Reminder
	err := s.reminders.FindOne(ctx, bson.M{"_id": id}).Decode(&r)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, storeErr("get", err)
	}
	return &r, nil
}

// ListReminders implements Store.ListReminders
func (s *MongoStore) ListReminders(ctx context.Context, filter ListFilter) ([]*Reminder, error) {
	q := bson.M{}
	if filter.OwnerID != "" {
		q["ownerId"] = filter.OwnerID
	}
	if filter.Status != nil {
		q["status"] = *filter.Status
	}
	if filter.Kind != nil {
		q["kind"] = *filter.Kind
	}
	if filter.Overdue {
		q["status"] = StatusPending
		q["dueAt"] = bson.M{"$exists": false}
		q["triggerCount"] = bson.M{"$gt": 0}
	}
	if filter.FromTime != nil || filter.ToTime != nil {
		rng := bson.M{}
		if filter.FromTime != nil {
			rng["$gte"] = *filter.FromTime
		}
		if filter.ToTime != nil {
			rng["$lte"] = *filter.ToTime
		}
		q["triggerAt"] = rng
	}

	opts := options.Find().SetSort(bson.D{{Key: "triggerAt", Value: 1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}
	return s.find(ctx, "list", q, opts)
}

// ListDue implements Store.ListDue
func (s *MongoStore) ListDue(ctx context.Context, q DueQuery) ([]*Reminder, error) {
	filter := bson.M{
		"dueAt": bson.M{"$exists": true},
		"$or": []bson.M{
			{
				"status": bson.M{"$in": []Status{StatusPending, StatusSnoozed}},
				"dueAt":  bson.M{"$lte": q.Now},
			},
			{
				"status": StatusDispatching,
				"$or": []bson.M{
					{"claimedAt": bson.M{"$exists": false}},
					{"claimedAt": bson.M{"$lt": q.StaleBefore}},
				},
			},
		},
	}
	opts := options.Find().SetSort(bson.D{{Key: "dueAt", Value: 1}})
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	return s.find(ctx, "list due", filter, opts)
}

// UpdateReminder implements Store.UpdateReminder
func (s *MongoStore) UpdateReminder(ctx context.Context, id string, mutate Mutation) (*Reminder, error) {
	return updateOptimistic(ctx, id, mutate, s.GetReminder, s.swap)
}

func (s *MongoStore) swap(ctx context.Context, r *Reminder, expected int64) (bool, error) {
	res, err := s.reminders.ReplaceOne(ctx, bson.M{"_id": r.ID, "version": expected}, r)
	if err != nil {
		return false, storeErr("update", err)
	}
	return res.MatchedCount == 1, nil
}

// DeleteReminder implements Store.DeleteReminder
func (s *MongoStore) DeleteReminder(ctx context.Context, id string) error {
	res, err := s.reminders.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return storeErr("delete", err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	_, err = s.attempts.DeleteMany(ctx, bson.M{"reminderId": id})
	return storeErr("delete", err)
}

// CreateAttempt implements Store.CreateAttempt
func (s *MongoStore) CreateAttempt(ctx context.Context, a *DispatchAttempt) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}
	_, err := s.attempts.InsertOne(ctx, a)
	return storeErr("create attempt", err)
}

// ListAttempts implements Store.ListAttempts
func (s *MongoStore) ListAttempts(ctx context.Context, reminderID string) ([]*DispatchAttempt, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}})
	cursor, err := s.attempts.Find(ctx, bson.M{"reminderId": reminderID}, opts)
	if err != nil {
		return nil, storeErr("list attempts", err)
	}
	defer cursor.Close(ctx)

	var attempts []*DispatchAttempt
	if err := cursor.All(ctx, &attempts); err != nil {
		return nil, storeErr("list attempts", err)
	}
	return attempts, nil
}

func (s *MongoStore) find(ctx context.Context, op string, filter bson.M, opts *options.FindOptions) ([]*Reminder, error) {
	cursor, err := s.reminders.Find(ctx, filter, opts)
	if err != nil {
		return nil, storeErr(op, err)
	}
	defer cursor.Close(ctx)

	var reminders []*Reminder
	if err := cursor.All(ctx, &reminders); err != nil {
		return nil, storeErr(op, err)
	}
	return reminders, nil
}
