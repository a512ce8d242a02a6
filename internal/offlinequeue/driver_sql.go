package offlinequeue

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Blob is one keyed value in the kv_blobs table.
type Blob struct {
	Key       string    `gorm:"column:blob_key;primaryKey;size:190;not null"`
	Value     string    `gorm:"column:value;type:text;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Blob) TableName() string {
	return "kv_blobs"
}

// SQLDriver stores the snapshot as a row in a gorm-managed database.
type SQLDriver struct {
	db     *gorm.DB
	key    string
	ownsDB bool
}

// NewSQLDriver migrates kv_blobs and binds the driver to key.
func NewSQLDriver(db *gorm.DB, key string) (*SQLDriver, error) {
	if db == nil {
		return nil, errors.New("offlinequeue: database handle is required")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = DefaultKey
	}
	if err := db.AutoMigrate(&Blob{}); err != nil {
		return nil, err
	}
	return &SQLDriver{db: db, key: key}, nil
}

func (d *SQLDriver) Read(ctx context.Context) (Snapshot, error) {
	var blob Blob
	err := d.db.WithContext(ctx).Where("blob_key = ?", d.key).Take(&blob).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return emptySnapshot(), nil
	}
	if err != nil {
		return emptySnapshot(), err
	}
	return decodeSnapshot([]byte(blob.Value))
}

func (d *SQLDriver) Write(ctx context.Context, snapshot Snapshot) error {
	data, err := encodeSnapshot(snapshot)
	if err != nil {
		return err
	}
	blob := Blob{Key: d.key, Value: string(data), UpdatedAt: time.Now().UTC()}
	return d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "blob_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&blob).Error
}

func (d *SQLDriver) Clear(ctx context.Context) error {
	return d.db.WithContext(ctx).Where("blob_key = ?", d.key).Delete(&Blob{}).Error
}

// Close releases the connection pool when the driver opened it.
func (d *SQLDriver) Close() error {
	if !d.ownsDB {
		return nil
	}
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
