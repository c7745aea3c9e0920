package models

import "gorm.io/datatypes"

// OrientationStatus tracks where an orientation session is in its lifecycle.
type OrientationStatus string

const (
	OrientationInitial       OrientationStatus = "initial"
	OrientationQuestionsSent OrientationStatus = "questions_sent"
	OrientationCompleted     OrientationStatus = "completed"
	OrientationFailed        OrientationStatus = "error"
)

// OrientationSession is one student's run through transcript analysis,
// follow-up questions and programme recommendations.
type OrientationSession struct {
	BaseModel

	UserID string `gorm:"type:uuid;not null;index" json:"user_id"`
	User   *User  `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`

	Series         string `gorm:"size:10;not null" json:"series"`
	TranscriptPath string `gorm:"size:255" json:"-"`
	TranscriptType string `gorm:"size:100" json:"-"`

	Status OrientationStatus `gorm:"size:20;not null;default:initial;index" json:"status"`

	Analysis        string         `gorm:"type:text" json:"analysis"`
	Questions       datatypes.JSON `json:"questions"`
	Answers         datatypes.JSON `json:"answers"`
	Recommendations datatypes.JSON `json:"recommendations"`
	Advice          string         `gorm:"type:text" json:"advice"`
	FailureReason   string         `gorm:"size:255" json:"-"`
}

// Open reports whether the session is waiting for the student's answers.
func (s *OrientationSession) Open() bool {
	return s.Status == OrientationQuestionsSent
}
