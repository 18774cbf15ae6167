package intake

import (
	"regexp"
	"strings"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

type requirement struct {
	key     string
	message string
}

var stepRequirements = map[int][]requirement{
	StepPersonal: {
		{FieldFirstName, "First name is required"},
		{FieldLastName, "Last name is required"},
		{FieldDateOfBirth, "Date of birth is required"},
		{FieldGender, "Gender is required"},
	},
	StepContact: {
		{FieldEmail, "Email is required"},
		{FieldPhone, "Phone number is required"},
		{FieldAddress, "Address is required"},
	},
	StepEmergency: {
		{FieldEmergencyContactName, "Emergency contact name is required"},
		{FieldEmergencyContactPhone, "Emergency contact phone is required"},
	},
}

// Validate checks the required fields of one step. Steps without
// requirements, including unknown step numbers, always pass.
func Validate(step int, d *Draft) FieldErrors {
	errs := FieldErrors{}
	if d == nil {
		return errs
	}
	for _, req := range stepRequirements[step] {
		value, _ := d.Get(req.key)
		if strings.TrimSpace(value) == "" {
			errs[req.key] = req.message
		}
	}
	if step == StepContact {
		if _, missing := errs[FieldEmail]; !missing && !emailPattern.MatchString(strings.TrimSpace(d.Email)) {
			errs[FieldEmail] = "Please enter a valid email address"
		}
	}
	return errs
}
