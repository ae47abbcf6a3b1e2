package data

import (
	"context"
	"fmt"
	"time"

	"github.com/PaulBabatuyi/nearchat/internal/messaging"
	"github.com/PaulBabatuyi/nearchat/internal/realtime"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MessagesStore implements messaging.MessageStore on the messages collection.
type MessagesStore struct {
	// coll is reference to "messages" collection in MongoDB
	coll *mongo.Collection

	// pub receives an event per write; nil when a change feed publishes instead
	pub realtime.Publisher
}

// NewMessagesStore returns a MessagesStore using given collection. pub may be nil.
func NewMessagesStore(coll *mongo.Collection, pub realtime.Publisher) *MessagesStore {
	return &MessagesStore{coll: coll, pub: pub}
}

// InsertMessage stores a new unread message with a server-side timestamp.
func (m *MessagesStore) InsertMessage(ctx context.Context, nm messaging.NewMessage) (messaging.Message, error) {
	// refuse rows that would break the participant invariant
	if err := nm.Validate(); err != nil {
		return messaging.Message{}, fmt.Errorf("data: insert message: %w", err)
	}

	msg := &Message{
		SenderID:   nm.SenderID,
		ReceiverID: nm.ReceiverID,
		Content:    nm.Content,
		Read:       false,
		// Mongo keeps millisecond precision; truncate so the returned row equals the stored one
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}

	result, err := m.coll.InsertOne(ctx, msg)
	if err != nil {
		return messaging.Message{}, fmt.Errorf("data: insert message: %w", err)
	}

	// Extract MongoDB's auto-generated _id and populate in struct
	msg.ID = result.InsertedID.(bson.ObjectID)

	m.publish(msg, realtime.Insert)
	return msg.domain(), nil
}

// Thread returns every message between the two users in either direction, oldest
// first.
func (m *MessagesStore) Thread(ctx context.Context, userID, counterpartID string) ([]messaging.Message, error) {
	// _id breaks ties between messages created in the same millisecond
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})

	// "$or" matches both directions of the conversation
	filter := bson.M{
		"$or": bson.A{
			bson.M{"sender_id": userID, "receiver_id": counterpartID},
			bson.M{"sender_id": counterpartID, "receiver_id": userID},
		},
	}

	cursor, err := m.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("data: find thread: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []*Message
	if err = cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("data: decode thread: %w", err)
	}
	return toDomain(rows), nil
}

// LatestMessages returns the most recent message exchanged with each counterpart,
// newest conversation first.
func (m *MessagesStore) LatestMessages(ctx context.Context, userID string) ([]messaging.Message, error) {
	// MongoDB Aggregation Pipeline: filter → order → group → unwrap → order
	pipeline := mongo.Pipeline{
		// Stage 1: $match - messages where the user is sender or recipient
		bson.D{{Key: "$match", Value: bson.D{
			{Key: "$or", Value: bson.A{
				bson.D{{Key: "sender_id", Value: userID}},
				bson.D{{Key: "receiver_id", Value: userID}},
			}},
		}}},

		// Stage 2: $sort - oldest first so $last below picks the newest message
		bson.D{{Key: "$sort", Value: bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}}},

		// Stage 3: $group - one group per counterpart holding the whole last message
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: bson.D{
				// $cond: if sender_id == userID, the partner is the receiver, else the sender
				{Key: "$cond", Value: bson.A{
					bson.D{{Key: "$eq", Value: bson.A{"$sender_id", userID}}},
					"$receiver_id",
					"$sender_id",
				}},
			}},
			{Key: "last", Value: bson.D{{Key: "$last", Value: "$$ROOT"}}},
		}}},

		// Stage 4: $replaceRoot - back to plain message documents
		bson.D{{Key: "$replaceRoot", Value: bson.D{{Key: "newRoot", Value: "$last"}}}},

		// Stage 5: $sort - most recent conversation first
		bson.D{{Key: "$sort", Value: bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}}},
	}

	cursor, err := m.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("data: aggregate latest messages: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []*Message
	if err = cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("data: decode latest messages: %w", err)
	}
	return toDomain(rows), nil
}

// MarkRead sets read=true on the unread messages among ids. Ids that are not valid
// ObjectIDs are ignored.
func (m *MessagesStore) MarkRead(ctx context.Context, ids []string) (int64, error) {
	oids := make([]bson.ObjectID, 0, len(ids))
	for _, id := range ids {
		oid, err := bson.ObjectIDFromHex(id)
		if err != nil {
			continue
		}
		oids = append(oids, oid)
	}
	if len(oids) == 0 {
		return 0, nil
	}

	filter := bson.M{"_id": bson.M{"$in": oids}, "read": false}

	// fetch the rows first so each update can be announced with its participants
	var changed []*Message
	if m.pub != nil {
		cursor, err := m.coll.Find(ctx, filter)
		if err != nil {
			return 0, fmt.Errorf("data: find unread: %w", err)
		}
		if err := cursor.All(ctx, &changed); err != nil {
			return 0, fmt.Errorf("data: decode unread: %w", err)
		}
	}

	res, err := m.coll.UpdateMany(ctx, filter, bson.M{"$set": bson.M{"read": true}})
	if err != nil {
		return 0, fmt.Errorf("data: mark read: %w", err)
	}

	for _, msg := range changed {
		m.publish(msg, realtime.Update)
	}
	return res.ModifiedCount, nil
}

func (m *MessagesStore) publish(msg *Message, t realtime.EventType) {
	if m.pub != nil {
		m.pub.Publish(msg.event(t))
	}
}

func toDomain(rows []*Message) []messaging.Message {
	out := make([]messaging.Message, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.domain())
	}
	return out
}
