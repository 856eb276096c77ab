package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/pgvector/pgvector-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/barekit/ragchat/pkg/errdefs"
	"github.com/barekit/ragchat/pkg/vectorstore"
)

// DefaultTable is the table used when none is configured.
const DefaultTable = "document_chunks"

var _ vectorstore.Store = (*PostgresStore)(nil)

// PostgresStore implements vectorstore.Store using pgvector.
type PostgresStore struct {
	db    *gorm.DB
	table string
}

// DocumentModel represents the database schema for a stored chunk.
type DocumentModel struct {
	ID        string `gorm:"primaryKey"`
	Content   string
	Metadata  []byte          `gorm:"type:jsonb"`  // Store metadata as JSONB
	Embedding pgvector.Vector `gorm:"type:vector"` // Dimension is set by the first insert
}

type hitRow struct {
	ID       string
	Content  string
	Metadata []byte
	Distance float64
}

// New connects to dsn, enables the vector extension and migrates table.
func New(dsn, table string) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to database: %w", errdefs.ErrStorage, err)
	}
	return NewWithDB(db, table)
}

// NewWithDB uses an existing gorm connection.
func NewWithDB(db *gorm.DB, table string) (*PostgresStore, error) {
	if table == "" {
		table = DefaultTable
	}

	// Enable pgvector extension
	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return nil, fmt.Errorf("%w: failed to enable pgvector extension: %w", errdefs.ErrStorage, err)
	}

	if err := db.Table(table).AutoMigrate(&DocumentModel{}); err != nil {
		return nil, fmt.Errorf("%w: failed to migrate database: %w", errdefs.ErrStorage, err)
	}

	return &PostgresStore{db: db, table: table}, nil
}

// Add upserts records in a single transaction.
func (s *PostgresStore) Add(ctx context.Context, ids []string, vectors [][]float32, texts []string, metadatas []map[string]any) error {
	if err := vectorstore.CheckAdd(ids, vectors, texts, metadatas); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	models := make([]DocumentModel, len(ids))
	for i, id := range ids {
		md, err := json.Marshal(metadatas[i])
		if err != nil {
			return fmt.Errorf("%w: failed to marshal metadata for %s: %w", errdefs.ErrValidation, id, err)
		}
		models[i] = DocumentModel{
			ID:        id,
			Content:   texts[i],
			Metadata:  md,
			Embedding: pgvector.NewVector(vectors[i]),
		}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Table(s.table).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"content", "metadata", "embedding"}),
		}).Create(&models).Error
	})
	if err != nil {
		return fmt.Errorf("%w: upsert failed: %w", errdefs.ErrStorage, err)
	}
	return nil
}

// Query orders by cosine distance (pgvector's <=> operator) ascending.
func (s *PostgresStore) Query(ctx context.Context, vector []float32, n int, filter vectorstore.Filter) (*vectorstore.QueryResult, error) {
	res := vectorstore.NewQueryResult()
	if n <= 0 {
		return res, nil
	}

	var rows []hitRow
	q := s.db.WithContext(ctx).
		Table(s.table).
		Select("id, content, metadata, embedding <=> ? AS distance", pgvector.NewVector(vector))
	q = where(q, filter)

	if err := q.Order("distance").Limit(n).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: query failed: %w", errdefs.ErrStorage, err)
	}

	for _, r := range rows {
		md, err := decode(r.Metadata)
		if err != nil {
			return nil, err
		}
		res.Append(r.ID, r.Content, md, r.Distance)
	}
	return res, nil
}

// Get returns every record matching filter, ordered by id.
func (s *PostgresStore) Get(ctx context.Context, filter vectorstore.Filter) (*vectorstore.QueryResult, error) {
	var models []DocumentModel
	q := where(s.db.WithContext(ctx).Table(s.table).Select("id, content, metadata"), filter)
	if err := q.Order("id").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("%w: get failed: %w", errdefs.ErrStorage, err)
	}

	res := vectorstore.NewQueryResult()
	res.Distances = nil
	for _, m := range models {
		md, err := decode(m.Metadata)
		if err != nil {
			return nil, err
		}
		res.IDs[0] = append(res.IDs[0], m.ID)
		res.Documents[0] = append(res.Documents[0], m.Content)
		res.Metadatas[0] = append(res.Metadatas[0], md)
	}
	return res, nil
}

// Delete removes ids.
func (s *PostgresStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Table(s.table).Where("id IN ?", ids).Delete(&DocumentModel{}).Error
	if err != nil {
		return fmt.Errorf("%w: delete failed: %w", errdefs.ErrStorage, err)
	}
	return nil
}

// Update replaces a single record.
func (s *PostgresStore) Update(ctx context.Context, id string, vector []float32, text string, md map[string]any) error {
	return s.Add(ctx, []string{id}, [][]float32{vector}, []string{text}, []map[string]any{md})
}

// Count returns the number of records.
func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int64
	if err := s.db.WithContext(ctx).Table(s.table).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("%w: count failed: %w", errdefs.ErrStorage, err)
	}
	return int(n), nil
}

// Close closes the underlying connection pool.
func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// where adds one JSONB equality condition per filter entry, in key order so
// the generated SQL is stable.
func where(q *gorm.DB, filter vectorstore.Filter) *gorm.DB {
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		q = q.Where("metadata->>? = ?", k, fmt.Sprint(filter[k]))
	}
	return q
}

func decode(raw []byte) (map[string]any, error) {
	md := make(map[string]any)
	if len(raw) == 0 {
		return md, nil
	}
	if err := json.Unmarshal(raw, &md); err != nil {
		return nil, fmt.Errorf("%w: corrupt metadata: %w", errdefs.ErrStorage, err)
	}
	return md, nil
}
