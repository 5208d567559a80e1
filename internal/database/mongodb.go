package database

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"essay-grader/internal/config"
	"essay-grader/internal/models"
	"essay-grader/internal/services"

	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoTaskStore keeps grading tasks in MongoDB
type MongoTaskStore struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// BuildMongoURI returns the connection URI and a copy safe for logging
func BuildMongoURI(cfg config.MongoDBConfig) (uri, logURI string) {
	if cfg.URI != "" {
		return cfg.URI, "(MONGODB_URI)"
	}

	authSource := cfg.AuthSource
	if authSource == "" {
		authSource = "admin"
	}
	if cfg.Username != "" && cfg.Password != "" {
		// url.UserPassword encodes special characters in credentials
		userInfo := url.UserPassword(cfg.Username, cfg.Password)
		uri = fmt.Sprintf("mongodb://%s@%s:%s/%s?authSource=%s",
			userInfo.String(), cfg.Host, cfg.Port, cfg.Database, url.QueryEscape(authSource))
		logURI = fmt.Sprintf("mongodb://%s:***@%s:%s/%s?authSource=%s",
			url.User(cfg.Username).String(), cfg.Host, cfg.Port, cfg.Database, url.QueryEscape(authSource))
		return uri, logURI
	}

	uri = fmt.Sprintf("mongodb://%s:%s/%s", cfg.Host, cfg.Port, cfg.Database)
	return uri, uri
}

// NewMongoTaskStore connects, pings and ensures the task indexes
func NewMongoTaskStore(cfg config.MongoDBConfig) (*MongoTaskStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	uri, logURI := BuildMongoURI(cfg)
	log.Infof("Attempting to connect to MongoDB at %s", logURI)

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB at %s: %w", logURI, err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB at %s: %w", logURI, err)
	}

	collection := client.Database(cfg.Database).Collection(cfg.Collection)

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "updatedAt", Value: 1}}},
	}
	if _, err := collection.Indexes().CreateMany(ctx, indexes); err != nil {
		// Index might already exist with other options, that's okay
		log.Warnf("MongoDB task index creation: %v", err)
	}

	return &MongoTaskStore{client: client, collection: collection}, nil
}

// Create inserts a new task document
func (s *MongoTaskStore) Create(ctx context.Context, task *models.Task) error {
	if _, err := s.collection.InsertOne(ctx, task); err != nil {
		return fmt.Errorf("failed to insert task %s: %w", task.ID, err)
	}
	return nil
}

// Get retrieves a task by ID
func (s *MongoTaskStore) Get(ctx context.Context, taskID string) (*models.Task, error) {
	var task models.Task
	err := s.collection.FindOne(ctx, bson.M{"id": taskID}).Decode(&task)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, &models.TaskNotFoundError{TaskID: taskID}
		}
		return nil, fmt.Errorf("failed to query task %s: %w", taskID, err)
	}
	return &task, nil
}

// Transition updates the task only while its stored status is one the
// target status may be reached from, so the check and the write are one
// atomic operation on the server.
func (s *MongoTaskStore) Transition(ctx context.Context, taskID string, to models.TaskStatus, update services.TaskUpdate) (*models.Task, error) {
	filter := bson.M{
		"id":     taskID,
		"status": bson.M{"$in": models.SourcesFor(to)},
	}
	set := transitionFields(to, update, time.Now().UTC())

	var task models.Task
	err := s.collection.FindOneAndUpdate(ctx, filter, bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&task)
	if err == nil {
		return &task, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("failed to update task %s: %w", taskID, err)
	}

	current, getErr := s.Get(ctx, taskID)
	if getErr != nil {
		return nil, getErr
	}
	return nil, &models.InvalidTransitionError{TaskID: taskID, From: current.Status, To: to}
}

func transitionFields(to models.TaskStatus, u services.TaskUpdate, now time.Time) bson.M {
	set := bson.M{"status": to, "updatedAt": now}
	if to.IsTerminal() {
		set["completedAt"] = now
	}
	if u.Report != nil {
		set["report"] = u.Report
	}
	if u.OriginalText != "" {
		set["originalText"] = u.OriginalText
	}
	if u.ReportKey != "" {
		set["reportKey"] = u.ReportKey
	}
	if u.PDFKey != "" {
		set["pdfKey"] = u.PDFKey
	}
	if u.Error != "" {
		set["error"] = u.Error
	}
	if u.Attempts != 0 {
		set["attempts"] = u.Attempts
	}
	if u.Timing != nil {
		set["timing"] = u.Timing
	}
	return set
}

// ListByUser returns a user's tasks, newest first
func (s *MongoTaskStore) ListByUser(ctx context.Context, userID int64, limit int) ([]*models.Task, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	// History does not need the full report payload
	opts.SetProjection(bson.M{"report": 0})

	cursor, err := s.collection.Find(ctx, bson.M{"userId": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	var tasks []*models.Task
	if err := cursor.All(ctx, &tasks); err != nil {
		return nil, fmt.Errorf("failed to decode tasks: %w", err)
	}
	return tasks, nil
}

// ListStale returns unfinished tasks not updated since olderThan
func (s *MongoTaskStore) ListStale(ctx context.Context, olderThan time.Time) ([]*models.Task, error) {
	filter := bson.M{
		"status":    bson.M{"$in": []models.TaskStatus{models.TaskStatusQueued, models.TaskStatusProcessing}},
		"updatedAt": bson.M{"$lt": olderThan},
	}
	cursor, err := s.collection.Find(ctx, filter, options.Find().SetProjection(bson.M{"report": 0}))
	if err != nil {
		return nil, fmt.Errorf("failed to list stale tasks: %w", err)
	}
	var tasks []*models.Task
	if err := cursor.All(ctx, &tasks); err != nil {
		return nil, fmt.Errorf("failed to decode tasks: %w", err)
	}
	return tasks, nil
}

// Ping checks the connection
func (s *MongoTaskStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close closes the MongoDB client connection
func (s *MongoTaskStore) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
