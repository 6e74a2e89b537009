package database

import (
	"fmt"
	"log"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DB is the global database instance
var DB *gorm.DB

// Connect establishes a connection to the PostgreSQL database
func Connect(dsn string, logLevel logger.LogLevel) error {
	var err error

	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	log.Println("Database connection established")
	return nil
}

// AutoMigrate runs database migrations
func AutoMigrate() error {
	return Migrate(DB)
}

// Migrate runs migrations on the given database handle.
// Accepts a db parameter so tests can migrate an in-memory database.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&Tenant{},
		&Monitor{},
		&Alert{},
		&OnCallSchedule{},
		&ScheduleAssignment{},
		&Incident{},
		&IntegrationEvent{},
		&AuditLog{},
		&SyncError{},
		&StatusPageConfig{},
		&NotificationPreference{},
		&WebhookSource{},
	)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// InitializeDefaults creates default records if they don't exist
func InitializeDefaults() error {
	var count int64
	DB.Model(&Tenant{}).Count(&count)
	if count == 0 {
		tenant := &Tenant{
			UUID: uuid.New().String(),
			Name: "default",
		}
		if err := DB.Create(tenant).Error; err != nil {
			return fmt.Errorf("failed to create default tenant: %w", err)
		}
		log.Printf("Created default tenant (ID: %d)", tenant.ID)

		page := &StatusPageConfig{
			TenantID: tenant.ID,
			Title:    "Service Status",
			Public:   true,
		}
		if err := DB.Create(page).Error; err != nil {
			return fmt.Errorf("failed to create default status page config: %w", err)
		}
	}
	return nil
}

// GetDB returns the database instance
func GetDB() *gorm.DB {
	return DB
}

// Close closes the database connection
func Close() error {
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
