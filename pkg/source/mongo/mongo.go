// Package mongo implements source.Source over a Rocket.Chat MongoDB database.
//
// Upload metadata lives in a collection (default "rocketchat_uploads") and
// the bytes in the GridFS bucket of the same name, i.e. the
// "<bucket>.files" and "<bucket>.chunks" collections. Chunk documents carry
// files_id, n and data.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/juju/mgo/v3"
	"github.com/juju/mgo/v3/bson"

	"github.com/marmos91/gridfsmigrate/internal/logger"
	"github.com/marmos91/gridfsmigrate/pkg/source"
)

const (
	defaultCollection         = "rocketchat_uploads"
	defaultSettingsCollection = "rocketchat_settings"
	defaultBatchSize          = 50
	defaultDialTimeout        = 30 * time.Second
)

// MongoSourceConfig contains connection and layout settings.
type MongoSourceConfig struct {
	// URI is a mongodb:// connection string. When set it takes precedence
	// over Host/Port/Username/Password.
	URI string

	Host     string
	Port     int
	Database string
	Username string
	Password string

	// Collection is the upload metadata collection; it also names the GridFS
	// bucket.
	Collection string

	// SettingsCollection holds the installation "uniqueID" setting.
	SettingsCollection string

	// BatchSize is the cursor batch size for record listing.
	BatchSize int

	Timeout time.Duration
}

// MongoSource reads uploads and GridFS chunks through juju/mgo.
//
// Every operation works on a copy of the root session, so the source is safe
// for concurrent use by dump workers.
type MongoSource struct {
	session    *mgo.Session
	database   string
	collection string
	settings   string
	batchSize  int
}

// uploadDoc mirrors the fields of an upload record the migration uses.
type uploadDoc struct {
	ID        string `bson:"_id"`
	Name      string `bson:"name"`
	Extension string `bson:"extension"`
	Type      string `bson:"type"`
	Size      int64  `bson:"size"`
	Store     string `bson:"store"`
	Complete  bool   `bson:"complete"`
	RoomID    string `bson:"rid"`
	UserID    string `bson:"userId"`
}

func (d *uploadDoc) record() *source.FileRecord {
	return &source.FileRecord{
		ID:          d.ID,
		Name:        d.Name,
		Extension:   d.Extension,
		ContentType: d.Type,
		Size:        d.Size,
		Store:       d.Store,
		Complete:    d.Complete,
		RoomID:      d.RoomID,
		UserID:      d.UserID,
	}
}

type chunkDoc struct {
	N    int    `bson:"n"`
	Data []byte `bson:"data"`
}

// NewMongoSource dials the database and returns a ready source.
func NewMongoSource(ctx context.Context, cfg MongoSourceConfig) (*MongoSource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	info, err := dialInfo(cfg)
	if err != nil {
		return nil, err
	}

	session, err := mgo.DialWithInfo(info)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB at %v: %w", info.Addrs, err)
	}

	collection := cfg.Collection
	if collection == "" {
		collection = defaultCollection
	}
	settings := cfg.SettingsCollection
	if settings == "" {
		settings = defaultSettingsCollection
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	logger.Info("Connected to MongoDB: addrs=%v database=%s collection=%s", info.Addrs, info.Database, collection)

	return &MongoSource{
		session:    session,
		database:   info.Database,
		collection: collection,
		settings:   settings,
		batchSize:  batchSize,
	}, nil
}

func dialInfo(cfg MongoSourceConfig) (*mgo.DialInfo, error) {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultDialTimeout
	}

	if cfg.URI != "" {
		info, err := mgo.ParseURL(cfg.URI)
		if err != nil {
			return nil, fmt.Errorf("invalid MongoDB URI: %w", err)
		}
		if cfg.Database != "" {
			info.Database = cfg.Database
		}
		info.Timeout = timeout
		return info, nil
	}

	if cfg.Database == "" {
		return nil, fmt.Errorf("mongo source: database is required")
	}

	info := &mgo.DialInfo{
		Addrs:    []string{net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))},
		Database: cfg.Database,
		Timeout:  timeout,
	}
	if cfg.Username != "" && cfg.Password != "" {
		info.Username = cfg.Username
		info.Password = cfg.Password
	}
	return info, nil
}

func (s *MongoSource) uploads(session *mgo.Session) *mgo.Collection {
	return session.DB(s.database).C(s.collection)
}

func (s *MongoSource) gridFS(session *mgo.Session) *mgo.GridFS {
	return session.DB(s.database).GridFS(s.collection)
}

func filterQuery(f source.Filter) bson.M {
	q := bson.M{}
	if len(f.IDs) > 0 {
		q["_id"] = bson.M{"$in": f.IDs}
	}
	if f.RoomID != "" {
		q["rid"] = f.RoomID
	}
	if f.UserID != "" {
		q["userId"] = f.UserID
	}
	return q
}

// ListFiles streams upload records through a cursor with a bounded batch
// size and no cursor timeout, so a long dump does not lose its cursor.
func (s *MongoSource) ListFiles(ctx context.Context, f source.Filter) (source.RecordIterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	session := s.session.Copy()
	session.SetCursorTimeout(0)

	iter := s.uploads(session).Find(filterQuery(f)).Batch(s.batchSize).Iter()
	return &recordIterator{session: session, iter: iter}, nil
}

func (s *MongoSource) ReadRecord(ctx context.Context, id string) (*source.FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	session := s.session.Copy()
	defer session.Close()

	var doc uploadDoc
	if err := s.uploads(session).FindId(id).One(&doc); err != nil {
		if errors.Is(err, mgo.ErrNotFound) {
			return nil, fmt.Errorf("record %s: %w", id, source.ErrRecordNotFound)
		}
		return nil, fmt.Errorf("failed to read record %s: %w", id, err)
	}
	return doc.record(), nil
}

// OpenChunks queries the chunk collection directly rather than going through
// GridFile, so that chunk numbering can be validated by the caller.
func (s *MongoSource) OpenChunks(ctx context.Context, id string) (source.ChunkIterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	session := s.session.Copy()
	if err := session.Ping(); err != nil {
		session.Close()
		return nil, fmt.Errorf("%w: %v", source.ErrSourceUnavailable, err)
	}

	iter := s.gridFS(session).Chunks.
		Find(bson.M{"files_id": id}).
		Select(bson.M{"n": 1, "data": 1}).
		Sort("n").
		Batch(1).
		Iter()

	return &chunkIterator{session: session, iter: iter}, nil
}

func (s *MongoSource) UpdatePointer(ctx context.Context, id string, p source.StoragePointer) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	session := s.session.Copy()
	defer session.Close()

	set := bson.M{
		"store": p.Store,
		"path":  p.Path,
		"url":   p.URL,
	}
	if p.ObjectKey != "" {
		set["AmazonS3"] = bson.M{"path": p.ObjectKey}
	}

	if err := s.uploads(session).UpdateId(id, bson.M{"$set": set}); err != nil {
		if errors.Is(err, mgo.ErrNotFound) {
			return fmt.Errorf("record %s: %w", id, source.ErrRecordNotFound)
		}
		return fmt.Errorf("failed to update record %s: %w", id, err)
	}
	return nil
}

// DeleteChunks removes the chunks first and the GridFS file document second,
// so a crash in between leaves a file document that a rerun removes.
func (s *MongoSource) DeleteChunks(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	session := s.session.Copy()
	defer session.Close()

	gfs := s.gridFS(session)
	if _, err := gfs.Chunks.RemoveAll(bson.M{"files_id": id}); err != nil {
		return fmt.Errorf("failed to remove chunks of %s: %w", id, err)
	}
	if err := gfs.Files.RemoveId(id); err != nil && !errors.Is(err, mgo.ErrNotFound) {
		return fmt.Errorf("failed to remove GridFS file %s: %w", id, err)
	}
	return nil
}

// UniqueID returns the installation's uniqueID setting.
func (s *MongoSource) UniqueID(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	session := s.session.Copy()
	defer session.Close()

	var row struct {
		Value string `bson:"value"`
	}
	if err := session.DB(s.database).C(s.settings).FindId("uniqueID").One(&row); err != nil {
		if errors.Is(err, mgo.ErrNotFound) {
			return "", fmt.Errorf("uniqueID setting not found in %s", s.settings)
		}
		return "", fmt.Errorf("failed to read uniqueID setting: %w", err)
	}
	return row.Value, nil
}

func (s *MongoSource) Close() error {
	s.session.Close()
	return nil
}

type recordIterator struct {
	session *mgo.Session
	iter    *mgo.Iter
}

func (it *recordIterator) Next(rec *source.FileRecord) bool {
	var doc uploadDoc
	if !it.iter.Next(&doc) {
		return false
	}
	*rec = *doc.record()
	return true
}

func (it *recordIterator) Err() error {
	return it.iter.Err()
}

func (it *recordIterator) Close() error {
	defer it.session.Close()
	return it.iter.Close()
}

type chunkIterator struct {
	session *mgo.Session
	iter    *mgo.Iter
}

func (it *chunkIterator) Next(c *source.Chunk) bool {
	var doc chunkDoc
	if !it.iter.Next(&doc) {
		return false
	}
	c.N = doc.N
	c.Data = doc.Data
	return true
}

func (it *chunkIterator) Err() error {
	return it.iter.Err()
}

func (it *chunkIterator) Close() error {
	defer it.session.Close()
	return it.iter.Close()
}
