package domain

import "time"

// Feedback is free-text feedback about the application.
type Feedback struct {
	ID        string
	DeviceID  string
	Message   string
	CreatedAt time.Time
}

// ProblemReport flags a specific question as wrong or unclear.
type ProblemReport struct {
	ID            string
	DeviceID      string
	ResumeCode    string
	Subject       string
	QuestionIndex int
	QuestionText  string
	Message       string
	CreatedAt     time.Time
}
