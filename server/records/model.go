package records

import "github.com/cyclopcam/dbh"

// Record is one stored prediction.
// Records are grouped by DoctorEmail, and every query is scoped to a single doctor,
// except for ListAll.
type Record struct {
	ID                  int64       `gorm:"primaryKey" json:"id"`
	DoctorEmail         string      `json:"doctor_email"`
	Name                string      `json:"name"`
	Surname             string      `json:"surname"`
	Age                 int         `json:"age"`
	MobileNo            string      `json:"mobile_no"`
	Prediction          string      `json:"prediction"`
	ModelUsed           string      `json:"model_used"`
	Confidence          float64     `json:"confidence"`
	PneumoniaPercentage string      `json:"pneumonia_percentage"`
	NormalPercentage    string      `json:"normal_percentage"`
	Date                dbh.IntTime `json:"date"`
	SaliencyMapURL      string      `gorm:"column:saliency_map_url" json:"saliency_map_url"`
	ImageURL            string      `gorm:"column:image_url" json:"image_url"`
}

// Patch holds the editable fields of a record. Nil fields are left unchanged.
type Patch struct {
	Name     *string `json:"name"`
	Surname  *string `json:"surname"`
	Age      *int    `json:"age"`
	MobileNo *string `json:"mobile_no"`
}

func (p *Patch) columns() map[string]any {
	m := map[string]any{}
	if p.Name != nil {
		m["name"] = *p.Name
	}
	if p.Surname != nil {
		m["surname"] = *p.Surname
	}
	if p.Age != nil {
		m["age"] = *p.Age
	}
	if p.MobileNo != nil {
		m["mobile_no"] = *p.MobileNo
	}
	return m
}
