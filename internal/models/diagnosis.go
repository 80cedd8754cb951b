package models

// DiagnosisRecord is a write-only audit row, one per answered diagnosis request
type DiagnosisRecord struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	UserID    uint   `gorm:"index;not null" json:"user_id"`
	Prompt    string `gorm:"type:text;not null" json:"prompt"`
	Diagnosis string `gorm:"type:text;not null" json:"diagnosis"`
}

// TableName keeps the audit table name independent of the struct name
func (DiagnosisRecord) TableName() string {
	return "diagnoses"
}

// DiagnosisRequest is the body of POST /diagnosis
type DiagnosisRequest struct {
	// Prompt may be empty but must be present
	Prompt     *string  `json:"prompt" binding:"required"`
	Images     []string `json:"images,omitempty"`
	HealthData string   `json:"health_data,omitempty"`
}

// DiagnosisResponse is returned by POST /diagnosis. RecordID is the session id.
type DiagnosisResponse struct {
	DiagnosisText string `json:"diagnosis_text"`
	RecordID      uint   `json:"record_id"`
}

// AllModels lists every table managed by the migrations
func AllModels() []any {
	return []any{&User{}, &Session{}, &Message{}, &DiagnosisRecord{}}
}
