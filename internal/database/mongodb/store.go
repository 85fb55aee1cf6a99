// Package mongodb stores ingested sessions and events in MongoDB.
package mongodb

import (
	"context"
	"fmt"
	"time"

	"github.com/vincentbai/shoptrace/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	sessionsCollection = "analytics_sessions"
	eventsCollection   = "analytics_events"
)

type Store struct {
	client   *mongo.Client
	sessions *mongo.Collection
	events   *mongo.Collection
}

// Connect dials uri and prepares both collections and their indexes.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	db := client.Database(database)
	s := &Store{
		client:   client,
		sessions: db.Collection(sessionsCollection),
		events:   db.Collection(eventsCollection),
	}

	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "session_id", Value: 1}}},
		{Keys: bson.D{{Key: "event_type", Value: 1}}},
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "session_id", Value: 1}, {Key: "created_at", Value: 1}}},
	}
	if _, err := s.events.Indexes().CreateMany(ctx, indexes); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to create event indexes: %w", err)
	}
	return s, nil
}

func (s *Store) InsertSession(ctx context.Context, session models.Session) error {
	if err := session.Validate(); err != nil {
		return fmt.Errorf("invalid session: %w", err)
	}
	// Upsert keeps a retried session insert from failing on the duplicate _id.
	_, err := s.sessions.ReplaceOne(ctx, bson.M{"_id": session.ID}, sessionDocument(session), options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

func (s *Store) InsertEvents(ctx context.Context, events []models.Event) error {
	if len(events) == 0 {
		return nil
	}
	docs := make([]interface{}, 0, len(events))
	for _, event := range events {
		if err := event.Validate(); err != nil {
			return fmt.Errorf("invalid event: %w", err)
		}
		docs = append(docs, event)
	}
	if _, err := s.events.InsertMany(ctx, docs, options.InsertMany().SetOrdered(true)); err != nil {
		return fmt.Errorf("failed to insert events: %w", err)
	}
	return nil
}

func (s *Store) ListEvents(ctx context.Context) ([]models.Event, error) {
	cursor, err := s.events.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer cursor.Close(ctx)

	var events []models.Event
	if err := cursor.All(ctx, &events); err != nil {
		return nil, fmt.Errorf("failed to decode events: %w", err)
	}
	for i := range events {
		events[i].CreatedAt = events[i].CreatedAt.UTC()
	}
	return events, nil
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// sessionDocument adds the receive time to the stored record.
func sessionDocument(session models.Session) bson.M {
	return bson.M{
		"_id":           session.ID,
		"visitor_id":    session.VisitorID,
		"referrer":      session.Referrer,
		"utm_source":    session.UTMSource,
		"utm_medium":    session.UTMMedium,
		"utm_campaign":  session.UTMCampaign,
		"device_type":   string(session.DeviceType),
		"screen_width":  session.ScreenWidth,
		"screen_height": session.ScreenHeight,
		"user_agent":    session.UserAgent,
		"received_at":   time.Now().UTC(),
	}
}
