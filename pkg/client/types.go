package client

import "time"

// ProcessInfo mirrors the daemon's adapter snapshot entry.
type ProcessInfo struct {
	PID       int32     `json:"PID"`
	PPID      int32     `json:"PPID"`
	Name      string    `json:"Name"`
	Command   string    `json:"Command"`
	User      string    `json:"User"`
	CPU       float64   `json:"CPU"`
	Memory    uint64    `json:"Memory"`
	StartTime time.Time `json:"StartTime"`
	Status    string    `json:"Status"`
}

// RegistryProcess mirrors the daemon's registry entry.
type RegistryProcess struct {
	ProcessInfo
	RegistryID string    `json:"RegistryID"`
	FirstSeen  time.Time `json:"FirstSeen"`
	LastSeen   time.Time `json:"LastSeen"`
	SeenCount  int64     `json:"SeenCount"`
	IsManaged  bool      `json:"IsManaged"`
}

// RegistryQuery carries the supported registry filters.
type RegistryQuery struct {
	Name    string
	User    string
	Status  string
	Tags    string // comma separated, ANY match
	Managed *bool
}

// RestartAttempt mirrors one recorded restart attempt.
type RestartAttempt struct {
	AttemptID  string    `json:"AttemptID"`
	RegistryID string    `json:"RegistryID"`
	PID        int32     `json:"PID"`
	Timestamp  time.Time `json:"Timestamp"`
	Reason     string    `json:"Reason"`
	Success    bool      `json:"Success"`
	NewPID     int32     `json:"NewPID"`
	DurationMS int64     `json:"DurationMS"`
	Error      string    `json:"Error"`
}

// HealthResult mirrors one health check result.
type HealthResult struct {
	CheckID    string    `json:"CheckID"`
	RegistryID string    `json:"RegistryID"`
	PID        int32     `json:"PID"`
	Type       string    `json:"Type"`
	Status     string    `json:"Status"`
	Timestamp  time.Time `json:"Timestamp"`
	DurationMS int64     `json:"DurationMS"`
	Attempt    int       `json:"Attempt"`
	Message    string    `json:"Message"`
}

// SystemMetrics mirrors one host metrics sample.
type SystemMetrics struct {
	Timestamp      time.Time `json:"Timestamp"`
	CPUPercent     float64   `json:"CPUPercent"`
	LoadAvg1       float64   `json:"LoadAvg1"`
	MemoryTotal    uint64    `json:"MemoryTotal"`
	MemoryUsed     uint64    `json:"MemoryUsed"`
	DiskReadBytes  uint64    `json:"DiskReadBytes"`
	DiskWriteBytes uint64    `json:"DiskWriteBytes"`
}

// loginResponse is the daemon's /auth/login payload.
type loginResponse struct {
	Success bool   `json:"success"`
	Token   *token `json:"token"`
}

type token struct {
	Type      string    `json:"type"`
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error string `json:"error"`
}
