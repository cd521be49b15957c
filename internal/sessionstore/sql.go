package sessionstore

import (
	"context"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
	"moff.io/moff-wallet/internal/config"
	"moff.io/moff-wallet/pkg/errors"
	"moff.io/moff-wallet/pkg/log"
)

// WalletSession is one saved session row.
type WalletSession struct {
	SessionKey string `gorm:"primaryKey;type:varchar(128)"`
	Data       string `gorm:"type:text;not null"`
	UpdatedAt  int64  `gorm:"not null"`
}

// SQLStore keeps the session in the wallet_sessions table of postgres or sqlite.
type SQLStore struct {
	db  *gorm.DB
	key string
}

func OpenPostgresStore(cred *config.DBCredential, key string) (*SQLStore, error) {
	return openSQLStore(postgres.Open(cred.Dsn()), "postgres", key)
}

// OpenSqliteStore opens path with the sqlite driver; ":memory:" gives a throwaway database.
func OpenSqliteStore(path, key string) (*SQLStore, error) {
	return openSQLStore(sqlite.Open(path), "sqlite", key)
}

func openSQLStore(dialector gorm.Dialector, name, key string) (*SQLStore, error) {
	cli, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Error),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "connect to %v", name)
	}
	db, err := cli.DB()
	if err != nil {
		return nil, errors.Wrapf(err, "get %v conn", name)
	}
	if err := db.Ping(); err != nil {
		return nil, errors.Wrapf(err, "ping to %v", name)
	}
	if name == "sqlite" {
		// one writer, and ":memory:" databases are per connection
		db.SetMaxOpenConns(1)
	}
	if err := cli.AutoMigrate(&WalletSession{}); err != nil {
		return nil, errors.Wrap(err, "autoMigrate wallet sessions")
	}
	log.Infof("Connected to %v session store...", name)
	if key == "" {
		key = DefaultKey
	}
	return &SQLStore{db: cli, key: key}, nil
}

func (s *SQLStore) Load(ctx context.Context) (string, bool, error) {
	var row WalletSession
	err := s.db.WithContext(ctx).Where("session_key = ?", s.key).Limit(1).Find(&row).Error
	if err != nil {
		return "", false, errors.WrapAndReport(err, "query wallet session")
	}
	if row.SessionKey == "" {
		return "", false, nil
	}
	return row.Data, true, nil
}

func (s *SQLStore) Save(ctx context.Context, session string) error {
	row := WalletSession{SessionKey: s.key, Data: session, UpdatedAt: time.Now().UnixMilli()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
	}).Create(&row).Error
	return errors.WrapAndReport(err, "save wallet session")
}

func (s *SQLStore) Delete(ctx context.Context) (bool, error) {
	res := s.db.WithContext(ctx).Where("session_key = ?", s.key).Delete(&WalletSession{})
	if res.Error != nil {
		return false, errors.WrapAndReport(res.Error, "delete wallet session")
	}
	return res.RowsAffected > 0, nil
}

func (s *SQLStore) Close() error {
	db, err := s.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}
