package recipient

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection names used by MongoDirectory.
const (
	RecipientsCollection = "recipients"
	AddressesCollection  = "recipient_addresses"
)

type addressDoc struct {
	Address      string    `bson:"address"`
	RecipientID  string    `bson:"recipientId"`
	RegisteredAt time.Time `bson:"registeredAt"`
}

// MongoDirectory implements Directory on MongoDB.
type MongoDirectory struct {
	recipients *mongo.Collection
	addresses  *mongo.Collection
}

// NewMongoDirectory creates a directory on db.
func NewMongoDirectory(db *mongo.Database) *MongoDirectory {
	return &MongoDirectory{
		recipients: db.Collection(RecipientsCollection),
		addresses:  db.Collection(AddressesCollection),
	}
}

// EnsureIndexes creates the indexes the lookups rely on.
func (d *MongoDirectory) EnsureIndexes(ctx context.Context) error {
	_, err := d.addresses.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "recipientId", Value: 1}, {Key: "address", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "recipientId", Value: 1}, {Key: "registeredAt", Value: -1}}},
		{Keys: bson.D{{Key: "address", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create address indexes: %w", err)
	}
	_, err = d.recipients.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: bson.D{{Key: "role", Value: 1}}})
	if err != nil {
		return fmt.Errorf("failed to create recipient indexes: %w", err)
	}
	return nil
}

// ResolveAddresses implements Directory.ResolveAddresses
func (d *MongoDirectory) ResolveAddresses(ctx context.Context, recipientID string) ([]string, error) {
	byRecipient, err := d.addressesFor(ctx, bson.M{"recipientId": recipientID})
	if err != nil {
		return nil, err
	}
	return byRecipient[recipientID], nil
}

func (d *MongoDirectory) addressesFor(ctx context.Context, q bson.M) (map[string][]string, error) {
	opts := options.Find().SetSort(bson.D{{Key: "registeredAt", Value: -1}})
	cursor, err := d.addresses.Find(ctx, q, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve addresses: %w", err)
	}
	var docs []addressDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode addresses: %w", err)
	}

	out := make(map[string][]string)
	for _, doc := range docs {
		out[doc.RecipientID] = append(out[doc.RecipientID], doc.Address)
	}
	return out, nil
}

// RegisterRecipient implements Directory.RegisterRecipient
func (d *MongoDirectory) RegisterRecipient(ctx context.Context, recipientID string, role Role) error {
	if _, err := validateRegistration(recipientID, role, "", false); err != nil {
		return err
	}
	return d.upsert(ctx, recipientID, role)
}

func (d *MongoDirectory) upsert(ctx context.Context, recipientID string, role Role) error {
	update := bson.M{"$setOnInsert": bson.M{"createdAt": now()}}
	if role != "" {
		update["$set"] = bson.M{"role": role}
	} else {
		update["$setOnInsert"] = bson.M{"createdAt": now(), "role": RoleUser}
	}
	_, err := d.recipients.UpdateOne(ctx, bson.M{"_id": recipientID}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save recipient: %w", err)
	}
	return nil
}

// RegisterAddress implements Directory.RegisterAddress
func (d *MongoDirectory) RegisterAddress(ctx context.Context, recipientID string, role Role, address string) error {
	address, err := validateRegistration(recipientID, role, address, true)
	if err != nil {
		return err
	}
	if err := d.upsert(ctx, recipientID, role); err != nil {
		return err
	}
	_, err = d.addresses.UpdateOne(ctx,
		bson.M{"recipientId": recipientID, "address": address},
		bson.M{"$set": bson.M{"registeredAt": now()}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to save address: %w", err)
	}
	return nil
}

// RemoveAddress implements Directory.RemoveAddress
func (d *MongoDirectory) RemoveAddress(ctx context.Context, address string) error {
	if _, err := d.addresses.DeleteMany(ctx, bson.M{"address": address}); err != nil {
		return fmt.Errorf("failed to remove address: %w", err)
	}
	return nil
}

// Recipients implements Directory.Recipients
func (d *MongoDirectory) Recipients(ctx context.Context, filter Filter) ([]Recipient, error) {
	q := bson.M{}
	if filter.Role != "" {
		q["role"] = filter.Role
	}
	if len(filter.IDs) > 0 {
		q["_id"] = bson.M{"$in": filter.IDs}
	}
	cursor, err := d.recipients.Find(ctx, q, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list recipients: %w", err)
	}
	var out []Recipient
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode recipients: %w", err)
	}
	if len(out) == 0 {
		return out, nil
	}

	ids := make([]string, len(out))
	for i, r := range out {
		ids[i] = r.ID
	}
	byRecipient, err := d.addressesFor(ctx, bson.M{"recipientId": bson.M{"$in": ids}})
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Addresses = byRecipient[out[i].ID]
	}
	return out, nil
}
