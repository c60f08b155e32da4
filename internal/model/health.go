package model

// HealthStatus represents the health of the view service and its tables
type HealthStatus struct {
	Status    ServiceStatus
	Timestamp int64
	Tables    []TableHealth
}

// ServiceStatus defines the operational status of the service or a table
type ServiceStatus string

const (
	ServiceStatusHealthy   ServiceStatus = "healthy"
	ServiceStatusDegraded  ServiceStatus = "degraded"
	ServiceStatusUnhealthy ServiceStatus = "unhealthy"
)

// TableHealth is the health of one registered table view
type TableHealth struct {
	Table       string        `json:"table"`
	Status      ServiceStatus `json:"status"`
	LastSyncOK  bool          `json:"last_sync_ok"`
	LastSyncAt  int64         `json:"last_sync_at,omitempty"`
	LastInstant string        `json:"last_instant,omitempty"`
	Message     string        `json:"message,omitempty"`
}
