package store

import (
	"gorm.io/gorm"
)

type Store interface {
	Job() Job
	InitialMigration() error
	Close() error
}

type DataStore struct {
	job Job
	db  *gorm.DB
}

func NewStore(db *gorm.DB) Store {
	return &DataStore{
		job: NewJobStore(db),
		db:  db,
	}
}

func (s *DataStore) Job() Job {
	return s.job
}

func (s *DataStore) InitialMigration() error {
	return s.job.InitialMigration()
}

func (s *DataStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
