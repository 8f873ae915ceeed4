package models

import "time"

// MaxGrade is the upper bound of the Italian exam scale; honors may only
// accompany a full-mark grade.
const MaxGrade = 30

// Outcome is the recorded result for one student on one appeal. At most one
// exists per (appeal, student) pair.
type Outcome struct {
	ID         string    `db:"id" json:"id"`
	AppealID   string    `db:"appeal_id" json:"appeal_id"`
	StudentID  string    `db:"student_id" json:"student_id"`
	Present    bool      `db:"present" json:"present"`
	Grade      int       `db:"grade" json:"grade"`
	WithHonors bool      `db:"with_honors" json:"with_honors"`
	Accepted   bool      `db:"accepted" json:"accepted"`
	Message    string    `db:"message" json:"message,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// OutcomeDetail adds directory context for result sheets.
type OutcomeDetail struct {
	Outcome
	StudentName string `db:"student_name" json:"student_name"`
	CourseName  string `db:"course_name" json:"course_name"`
}
