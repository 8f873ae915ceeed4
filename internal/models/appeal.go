package models

import "time"

// Appeal is a professor-published exam session for one course on one date.
type Appeal struct {
	ID             string    `db:"id" json:"id"`
	CourseID       string    `db:"course_id" json:"course_id"`
	DegreeCourseID string    `db:"degree_course_id" json:"degree_course_id"`
	ProfessorID    string    `db:"professor_id" json:"professor_id"`
	Description    string    `db:"description" json:"description"`
	Date           time.Time `db:"date" json:"date"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// AppealDetail joins directory names onto an appeal row for listings.
type AppealDetail struct {
	Appeal
	CourseName       string `db:"course_name" json:"course_name"`
	DegreeCourseName string `db:"degree_course_name" json:"degree_course_name"`
	ProfessorName    string `db:"professor_name" json:"professor_name"`
	BookingCount     int    `db:"booking_count" json:"booking_count"`
}

// Booking registers one student for one appeal. The pair is unique.
type Booking struct {
	AppealID  string    `db:"appeal_id" json:"appeal_id"`
	StudentID string    `db:"student_id" json:"student_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// BookingDetail joins the student's directory name onto a booking row.
type BookingDetail struct {
	Booking
	StudentName string `db:"student_name" json:"student_name"`
}
