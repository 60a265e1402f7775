package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const mongoOpTimeout = 5 * time.Second

// MongoStore keeps facts and debate logs in MongoDB. Content payloads are
// stored as JSON bytes so they read back with the same types as the SQL store.
type MongoStore struct {
	facts   *mongo.Collection
	debates *mongo.Collection
}

var (
	_ Store          = (*MongoStore)(nil)
	_ DebateRecorder = (*MongoStore)(nil)
)

// NewMongoStore uses the memory_facts and debate_logs collections of dbName
// (default "coachd") and ensures the fact key index exists.
func NewMongoStore(ctx context.Context, client *mongo.Client, dbName string) (*MongoStore, error) {
	if dbName == "" {
		dbName = "coachd"
	}
	db := client.Database(dbName)
	s := &MongoStore{
		facts:   db.Collection("memory_facts"),
		debates: db.Collection("debate_logs"),
	}

	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()
	_, err := s.facts.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "agent_name", Value: 1}, {Key: "learning_type", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, fmt.Errorf("create fact index: %w", err)
	}
	return s, nil
}

type mongoFactDoc struct {
	ID           string     `bson:"_id"`
	UserID       string     `bson:"user_id"`
	AgentName    string     `bson:"agent_name"`
	LearningType string     `bson:"learning_type"`
	Content      []byte     `bson:"content"`
	Confidence   float64    `bson:"confidence"`
	ExpiresAt    *time.Time `bson:"expires_at,omitempty"`
	CreatedAt    time.Time  `bson:"created_at"`
	UpdatedAt    time.Time  `bson:"updated_at"`
}

func toFactDoc(f Fact) (mongoFactDoc, error) {
	content, err := json.Marshal(f.Content)
	if err != nil {
		return mongoFactDoc{}, fmt.Errorf("encode content: %w", err)
	}
	return mongoFactDoc{
		ID:           f.ID,
		UserID:       f.UserID,
		AgentName:    f.AgentName,
		LearningType: f.LearningType,
		Content:      content,
		Confidence:   f.Confidence,
		ExpiresAt:    f.ExpiresAt,
		CreatedAt:    f.CreatedAt,
		UpdatedAt:    f.UpdatedAt,
	}, nil
}

func (d mongoFactDoc) fact() (Fact, error) {
	f := Fact{
		ID:           d.ID,
		UserID:       d.UserID,
		AgentName:    d.AgentName,
		LearningType: d.LearningType,
		Confidence:   d.Confidence,
		CreatedAt:    d.CreatedAt.UTC(),
		UpdatedAt:    d.UpdatedAt.UTC(),
	}
	if d.ExpiresAt != nil {
		t := d.ExpiresAt.UTC()
		f.ExpiresAt = &t
	}
	if err := json.Unmarshal(d.Content, &f.Content); err != nil {
		return Fact{}, fmt.Errorf("decode content: %w", err)
	}
	return f, nil
}

func (s *MongoStore) Find(ctx context.Context, userID, agentName, learningType string) (*Fact, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	var doc mongoFactDoc
	err := s.facts.FindOne(ctx, bson.M{
		"user_id":       userID,
		"agent_name":    agentName,
		"learning_type": learningType,
	}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find fact: %w", err)
	}
	f, err := doc.fact()
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// Insert upserts on the fact key so concurrent inserts resolve as last
// write wins.
func (s *MongoStore) Insert(ctx context.Context, f Fact) error {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	doc, err := toFactDoc(f)
	if err != nil {
		return err
	}
	_, err = s.facts.UpdateOne(ctx,
		bson.M{"user_id": f.UserID, "agent_name": f.AgentName, "learning_type": f.LearningType},
		bson.M{
			"$set": bson.M{
				"content":    doc.Content,
				"confidence": doc.Confidence,
				"expires_at": doc.ExpiresAt,
				"updated_at": doc.UpdatedAt,
			},
			"$setOnInsert": bson.M{
				"_id":        doc.ID,
				"created_at": doc.CreatedAt,
			},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("insert fact: %w", err)
	}
	return nil
}

func (s *MongoStore) Update(ctx context.Context, f Fact) error {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	content, err := json.Marshal(f.Content)
	if err != nil {
		return fmt.Errorf("encode content: %w", err)
	}
	res, err := s.facts.UpdateOne(ctx,
		bson.M{"user_id": f.UserID, "agent_name": f.AgentName, "learning_type": f.LearningType},
		bson.M{"$set": bson.M{
			"content":    content,
			"confidence": f.Confidence,
			"expires_at": f.ExpiresAt,
			"updated_at": f.UpdatedAt,
		}},
	)
	if err != nil {
		return fmt.Errorf("update fact: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) List(ctx context.Context, userID string, filter Filter, now time.Time) ([]Fact, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	q := bson.M{
		"user_id":    userID,
		"confidence": bson.M{"$gte": filter.MinConfidence},
		"$or": bson.A{
			bson.M{"expires_at": nil},
			bson.M{"expires_at": bson.M{"$gt": now}},
		},
	}
	if filter.LearningType != "" {
		q["learning_type"] = filter.LearningType
	}
	if filter.AgentName != "" {
		q["agent_name"] = filter.AgentName
	}

	cur, err := s.facts.Find(ctx, q, options.Find().SetSort(bson.D{
		{Key: "confidence", Value: -1},
		{Key: "updated_at", Value: -1},
	}))
	if err != nil {
		return nil, fmt.Errorf("list facts: %w", err)
	}
	defer cur.Close(ctx)

	var out []Fact
	for cur.Next(ctx) {
		var doc mongoFactDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode fact: %w", err)
		}
		f, err := doc.fact()
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, cur.Err()
}

type mongoDebateDoc struct {
	ID         string    `bson:"_id"`
	UserID     string    `bson:"user_id"`
	DebateType string    `bson:"debate_type"`
	Timestamp  time.Time `bson:"timestamp"`
	Data       []byte    `bson:"data"`
}

func (s *MongoStore) RecordDebate(ctx context.Context, log DebateLog) error {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	data, err := json.Marshal(log.DebateData)
	if err != nil {
		return fmt.Errorf("encode debate: %w", err)
	}
	_, err = s.debates.InsertOne(ctx, mongoDebateDoc{
		ID:         log.ID,
		UserID:     log.UserID,
		DebateType: log.DebateType,
		Timestamp:  log.Timestamp,
		Data:       data,
	})
	if err != nil {
		return fmt.Errorf("record debate: %w", err)
	}
	return nil
}

func (s *MongoStore) Debates(ctx context.Context, userID string, limit int) ([]DebateLog, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 50
	}
	cur, err := s.debates.Find(ctx, bson.M{"user_id": userID},
		options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}}).SetLimit(int64(limit)))
	if err != nil {
		return nil, fmt.Errorf("list debates: %w", err)
	}
	defer cur.Close(ctx)

	var out []DebateLog
	for cur.Next(ctx) {
		var doc mongoDebateDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode debate: %w", err)
		}
		log := DebateLog{ID: doc.ID, UserID: doc.UserID, DebateType: doc.DebateType, Timestamp: doc.Timestamp.UTC()}
		if err := json.Unmarshal(doc.Data, &log.DebateData); err != nil {
			return nil, fmt.Errorf("decode debate: %w", err)
		}
		out = append(out, log)
	}
	return out, cur.Err()
}
