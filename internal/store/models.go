package store

// Monitor is a durable check definition.
type Monitor struct {
	ID                     string
	ManageKeyHash          string
	Name                   string
	Slug                   string
	URL                    string
	MonitorType            string // http, tcp, dns
	Method                 string
	Headers                string // JSON object
	BodyContains           string
	FollowRedirects        bool
	DNSRecordType          string
	DNSExpected            string
	IntervalSeconds        int
	TimeoutMs              int
	ExpectedStatus         int
	ConfirmationThreshold  int
	ResponseTimeThreshold  *int
	ConsecutiveFailures    int
	ConsensusThreshold     *int
	IsPublic               bool
	IsPaused               bool
	Tags                   string // lowercase comma-joined
	GroupName              string
	SLATarget              float64
	SLAPeriodDays          int
	CurrentStatus          string
	LastCheckedAt          string
	CreatedAt              string
	UpdatedAt              string
}

// Heartbeat is an immutable outcome of one check.
type Heartbeat struct {
	ID             string
	MonitorID      string
	LocationID     string // empty = local
	Status         string // up, down, degraded
	ResponseTimeMs int
	StatusCode     *int
	ErrorMessage   string
	CheckedAt      string
	Seq            int64
}

// Incident is an open-or-closed failure episode.
type Incident struct {
	ID                string
	MonitorID         string
	StartedAt         string
	ResolvedAt        string
	Cause             string
	Acknowledgement   string
	AcknowledgedBy    string
	AcknowledgedAt    string
	Seq               int64
}

// CheckLocation is a registered remote probe.
type CheckLocation struct {
	ID            string
	Name          string
	Region        string
	ProbeKeyHash  string
	IsActive      bool
	LastSeenAt    string
	CreatedAt     string
}

// NotificationChannel describes a webhook or email delivery target.
type NotificationChannel struct {
	ID          string
	MonitorID   string
	Name        string
	ChannelType string // webhook, email
	Config      string // JSON: {url, payload_format} or {address}
	IsEnabled   bool
	CreatedAt   string
	UpdatedAt   string
}

// MaintenanceWindow suppresses incident creation for a monitor during
// [StartsAt, EndsAt).
type MaintenanceWindow struct {
	ID        string
	MonitorID string
	Title     string
	StartsAt  string
	EndsAt    string
	CreatedAt string
}

// MonitorDependency is a directed edge monitor_id -> depends_on_id.
type MonitorDependency struct {
	ID              string
	MonitorID       string
	DependsOnID     string
	DependsOnName   string
	DependsOnStatus string
	CreatedAt       string
}

// AlertRule drives reminder/escalation ticking while an incident is open.
type AlertRule struct {
	MonitorID               string
	RepeatIntervalMinutes   int
	MaxRepeats              int
	EscalationAfterMinutes  int
	CreatedAt               string
	UpdatedAt               string
}

// WebhookDelivery is an audit record of one webhook attempt.
type WebhookDelivery struct {
	ID             string
	DeliveryGroup  string
	MonitorID      string
	Event          string
	URL            string
	Attempt        int
	Status         string // success, failed
	StatusCode     *int
	ErrorMessage   string
	ResponseTimeMs int
	Seq            int64
}

// AlertLogEntry records one reminder/escalation emission.
type AlertLogEntry struct {
	ID         string
	MonitorID  string
	IncidentID string
	ChannelID  string
	AlertType  string // reminder, escalation
	Event      string
	SentAt     string
}

// StatusPage is the minimal record needed to mint and verify an
// independent manage-key space for a named status page.
type StatusPage struct {
	ID            string
	Slug          string
	Name          string
	ManageKeyHash string
	CreatedAt     string
}
