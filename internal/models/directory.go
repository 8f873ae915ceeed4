package models

// Course is the read-only directory view of a teachable course.
type Course struct {
	ID             string `db:"id" json:"id"`
	Name           string `db:"name" json:"name"`
	DegreeCourseID string `db:"degree_course_id" json:"degree_course_id"`
}

// DegreeCourse is the read-only directory view of a degree programme.
type DegreeCourse struct {
	ID   string `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
}

// Student is the directory projection the appeal workflows need: identity
// plus study-plan membership checks, nothing from the full user record.
type Student struct {
	ID       string `db:"id" json:"id"`
	FullName string `db:"full_name" json:"full_name"`
}

// Professor is the directory projection for appeal ownership checks.
type Professor struct {
	ID       string `db:"id" json:"id"`
	FullName string `db:"full_name" json:"full_name"`
}
