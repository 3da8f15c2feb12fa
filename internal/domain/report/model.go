package report

import (
	"time"

	"github.com/labreport/labreport/internal/platform/auth"
)

type Report struct {
	ID            int64      `json:"id"`
	TestStartDate time.Time  `json:"test_start_date"`
	TestEndDate   *time.Time `json:"test_end_date,omitempty"`
	Status        Status     `json:"status"`
	CreatedBy     int64      `json:"created_by"`
	AssignedTo    *int64     `json:"assigned_to,omitempty"`
	SignedBy      *int64     `json:"signed_by,omitempty"`
	SignedAt      *time.Time `json:"signed_at,omitempty"`
	ApprovedBy    *int64     `json:"approved_by,omitempty"`
	ApprovedAt    *time.Time `json:"approved_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

type Sample struct {
	ID         int64        `json:"id"`
	ReportID   int64        `json:"report_id"`
	LabTypeID  int64        `json:"lab_type_id"`
	Name       string       `json:"sample_name"`
	Amount     string       `json:"sample_amount,omitempty"`
	Location   string       `json:"location,omitempty"`
	SampleDate *time.Time   `json:"sample_date,omitempty"`
	SampledBy  string       `json:"sampled_by,omitempty"`
	Status     SampleStatus `json:"status"`
}

type SampleIndicator struct {
	ID          int64           `json:"id"`
	SampleID    int64           `json:"sample_id"`
	IndicatorID int64           `json:"indicator_id"`
	Status      IndicatorStatus `json:"status"`
}

// ResultValues is the measured payload of one TestResult.
type ResultValues struct {
	Value       *string    `json:"result_value"`
	Detected    *bool      `json:"is_detected"`
	WithinLimit *bool      `json:"is_within_limit"`
	EquipmentID *int64     `json:"equipment_id"`
	Notes       *string    `json:"notes"`
	MeasuredAt  *time.Time `json:"measured_at,omitempty"`
}

// Complete is true when either a value or a detection flag was recorded.
func (v ResultValues) Complete() bool {
	return v.Value != nil || v.Detected != nil
}

type TestResult struct {
	ID                int64 `json:"id"`
	SampleIndicatorID int64 `json:"sample_indicator_id"`
	ResultValues
}

type Comment struct {
	ID        int64         `json:"id"`
	ReportID  int64         `json:"report_id"`
	UserID    int64         `json:"user_id"`
	UserName  string        `json:"user_name,omitempty"`
	Text      string        `json:"comment"`
	Action    CommentAction `json:"action_type"`
	CreatedAt time.Time     `json:"created_at"`
}

// Indicator is catalog data shown alongside an assignment.
type Indicator struct {
	ID         int64  `json:"id"`
	Name       string `json:"indicator_name"`
	Unit       string `json:"unit,omitempty"`
	TestMethod string `json:"test_method,omitempty"`
	LimitValue string `json:"limit_value,omitempty"`
	InputType  string `json:"input_type"`
}

// User is the directory view of an account.
type User struct {
	ID       int64     `json:"id"`
	Email    string    `json:"email"`
	FullName string    `json:"full_name"`
	Role     auth.Role `json:"role"`
	Active   bool      `json:"is_active"`
}

// ---------------------------------------------------------------------------
// Inputs
// ---------------------------------------------------------------------------

type Draft struct {
	TestStartDate time.Time     `json:"test_start_date" validate:"required"`
	AssignedTo    *int64        `json:"assigned_to" validate:"omitempty,gt=0"`
	Samples       []DraftSample `json:"samples" validate:"required,min=1,dive"`
}

type DraftSample struct {
	LabTypeID    int64      `json:"lab_type_id" validate:"gt=0"`
	Name         string     `json:"sample_name" validate:"required"`
	Amount       string     `json:"sample_amount"`
	Location     string     `json:"location"`
	SampleDate   *time.Time `json:"sample_date"`
	SampledBy    string     `json:"sampled_by"`
	IndicatorIDs []int64    `json:"indicators" validate:"required,min=1,dive,gt=0"`
}

// Created is returned by Create. SampleIDs follow input order.
type Created struct {
	ReportID  int64   `json:"report_id"`
	SampleIDs []int64 `json:"sample_ids"`
}

type ResultInput struct {
	SampleIndicatorID int64 `json:"sample_indicator_id" validate:"gt=0"`
	ResultValues
}

// DesiredSample is one entry of a reconcile request. ID is zero for a new sample.
type DesiredSample struct {
	ID         int64              `json:"sample_id" validate:"gte=0"`
	LabTypeID  int64              `json:"lab_type_id" validate:"gt=0"`
	Name       string             `json:"sample_name" validate:"required"`
	Amount     string             `json:"sample_amount"`
	Location   string             `json:"location"`
	SampleDate *time.Time         `json:"sample_date"`
	SampledBy  string             `json:"sampled_by"`
	Indicators []DesiredIndicator `json:"indicators" validate:"required,min=1,dive"`
}

type DesiredIndicator struct {
	IndicatorID int64         `json:"indicator_id" validate:"gt=0"`
	Result      *ResultValues `json:"result,omitempty"`
}

type SignInput struct {
	AssigneeID int64
	Credential string
	Note       string
}

type ListFilter struct {
	Status *Status
	From   *time.Time
	To     *time.Time
}

// ArchiveQuery selects archived reports by status, optionally narrowed to an assignee.
type ArchiveQuery struct {
	Status     Status
	AssignedTo *int64
}

// ---------------------------------------------------------------------------
// Read models
// ---------------------------------------------------------------------------

type Summary struct {
	Report
	CreatedByName  string   `json:"created_by_name"`
	AssignedToName string   `json:"assigned_to_name,omitempty"`
	LabTypes       []string `json:"lab_types"`
	SampleNames    []string `json:"sample_names"`
	IndicatorNames []string `json:"indicator_names"`
	SampleCount    int      `json:"sample_count"`
}

type Detail struct {
	Report     Report         `json:"report"`
	LabTypeIDs []int64        `json:"-"`
	Samples    []SampleDetail `json:"samples"`
	Comments   []Comment      `json:"comments"`
}

type SampleDetail struct {
	Sample
	Indicators []IndicatorDetail `json:"indicators"`
}

type IndicatorDetail struct {
	SampleIndicator
	Indicator Indicator   `json:"indicator"`
	Result    *TestResult `json:"result"`
}

// State is the full stored child set of a report, deleted rows included.
type State struct {
	Samples    []Sample
	Indicators []SampleIndicator
}

// IndicatorRef tells which report a sample indicator belongs to and whether
// both it and its sample are still active.
type IndicatorRef struct {
	ReportID int64
	Active   bool
}
