package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ChangeFeed turns a MongoDB change stream into Events on a Publisher. It lets
// several API processes share one database and still see each other's writes.
type ChangeFeed struct {
	coll  *mongo.Collection
	table string
	pub   Publisher
	log   *slog.Logger
}

// NewChangeFeed watches coll and publishes its changes as events for table.
func NewChangeFeed(coll *mongo.Collection, table string, pub Publisher, log *slog.Logger) *ChangeFeed {
	if log == nil {
		log = slog.Default()
	}
	return &ChangeFeed{coll: coll, table: table, pub: pub, log: log}
}

type changeDoc struct {
	OperationType string         `bson:"operationType"`
	FullDocument  bson.M         `bson:"fullDocument"`
	DocumentKey   bson.M         `bson:"documentKey"`
	ClusterTime   bson.Timestamp `bson:"clusterTime"`
}

// Run watches until ctx is cancelled. It returns nil on cancellation and the stream
// error otherwise; the caller decides whether to restart.
func (f *ChangeFeed) Run(ctx context.Context) error {
	// updateLookup so update events carry the participant columns filters match on
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	cs, err := f.coll.Watch(ctx, mongo.Pipeline{}, opts)
	if err != nil {
		return fmt.Errorf("realtime: watch %s: %w", f.table, err)
	}
	defer cs.Close(context.Background())

	f.log.Info("change feed started", "table", f.table)
	for cs.Next(ctx) {
		var doc changeDoc
		if err := cs.Decode(&doc); err != nil {
			f.log.Warn("undecodable change event", "table", f.table, "err", err)
			continue
		}
		e, ok := EventFromChange(f.table, doc.OperationType, doc.DocumentKey, doc.FullDocument)
		if !ok {
			continue
		}
		if doc.ClusterTime.T != 0 {
			e.At = time.Unix(int64(doc.ClusterTime.T), 0).UTC()
		}
		f.pub.Publish(e)
	}

	if err := cs.Err(); err != nil && !errors.Is(err, context.Canceled) && ctx.Err() == nil {
		return fmt.Errorf("realtime: change stream %s: %w", f.table, err)
	}
	return nil
}

// EventFromChange maps a change stream operation to an Event. String and ObjectID
// fields of the document become columns; _id is exposed as "id". Operations other than
// insert, update, replace and delete are skipped.
func EventFromChange(table, op string, key, doc bson.M) (Event, bool) {
	var t EventType
	switch op {
	case "insert":
		t = Insert
	case "update", "replace":
		t = Update
	case "delete":
		t = Delete
	default:
		return Event{}, false
	}

	cols := make(map[string]string, len(doc)+1)
	for k, v := range key {
		if s, ok := columnValue(v); ok && k == "_id" {
			cols["id"] = s
		}
	}
	for k, v := range doc {
		s, ok := columnValue(v)
		if !ok {
			continue
		}
		if k == "_id" {
			k = "id"
		}
		cols[k] = s
	}
	return Event{Table: table, Type: t, Columns: cols, At: time.Now().UTC()}, true
}

func columnValue(v interface{}) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case bson.ObjectID:
		return x.Hex(), true
	}
	return "", false
}
