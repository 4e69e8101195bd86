package models

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// TaskStatus is the lifecycle state of a task execution.
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusRunning   TaskStatus = "running"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
	StatusStopped   TaskStatus = "stopped"
)

// Terminal reports whether no further status transitions are possible.
func (s TaskStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusStopped:
		return true
	}
	return false
}

// QueueName identifies one of the fixed execution queues. The set is closed:
// every task definition must resolve to one of these at startup.
type QueueName string

const (
	QueueDataCollection QueueName = "data_collection"
	QueueAnalysis       QueueName = "analysis"
	QueueTrading        QueueName = "trading"
	QueueEvents         QueueName = "events"
)

// AllQueues returns the queues in their fixed order.
func AllQueues() []QueueName {
	return []QueueName{QueueDataCollection, QueueAnalysis, QueueTrading, QueueEvents}
}

// ParseQueueName validates a queue name from configuration.
func ParseQueueName(s string) (QueueName, error) {
	switch QueueName(s) {
	case QueueDataCollection, QueueAnalysis, QueueTrading, QueueEvents:
		return QueueName(s), nil
	}
	return "", fmt.Errorf("unknown queue %q", s)
}

// TaskExecution represents one submission of a catalog task
type TaskExecution struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	TaskName    string     `gorm:"index" json:"task_name"`
	Command     string     `json:"command"`
	Queue       string     `gorm:"index" json:"queue"`
	Status      TaskStatus `gorm:"index" json:"status"`
	Output      string     `json:"output"`
	ErrorLog    string     `json:"error_log"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
}

// MigrateTaskModels runs migrations for task execution models
func MigrateTaskModels(db *gorm.DB) error {
	return db.AutoMigrate(&TaskExecution{})
}
