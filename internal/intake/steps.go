package intake

// Step is one page of the wizard.
type Step struct {
	Number      int      `json:"number"`
	Label       string   `json:"label"`
	Description string   `json:"description"`
	Fields      []string `json:"fields"`
	Required    []string `json:"required"`
}

// Registration steps, in order.
const (
	StepPersonal = iota + 1
	StepContact
	StepEmergency
	StepInsurance
	StepMedical
)

// DefaultSteps returns the patient registration flow.
func DefaultSteps() []Step {
	return []Step{
		{
			Number:      StepPersonal,
			Label:       "Personal Information",
			Description: "Basic details about the patient",
			Fields:      []string{FieldFirstName, FieldMiddleName, FieldLastName, FieldDateOfBirth, FieldGender, FieldPreferredLanguage},
			Required:    []string{FieldFirstName, FieldLastName, FieldDateOfBirth, FieldGender},
		},
		{
			Number:      StepContact,
			Label:       "Contact Information",
			Description: "How the clinic can reach the patient",
			Fields:      []string{FieldEmail, FieldPhone, FieldAddress, FieldCity, FieldState, FieldZipCode, FieldCountry},
			Required:    []string{FieldEmail, FieldPhone, FieldAddress},
		},
		{
			Number:      StepEmergency,
			Label:       "Emergency Contact",
			Description: "Who to call in an emergency",
			Fields:      []string{FieldEmergencyContactName, FieldEmergencyContactPhone, FieldEmergencyContactRelationship},
			Required:    []string{FieldEmergencyContactName, FieldEmergencyContactPhone},
		},
		{
			Number:      StepInsurance,
			Label:       "Insurance",
			Description: "Coverage details, if any",
			Fields:      []string{FieldInsuranceProvider, FieldInsurancePolicyNumber, FieldInsuranceGroupNumber, FieldInsuranceHolderName},
		},
		{
			Number:      StepMedical,
			Label:       "Medical History",
			Description: "Allergies, conditions and current medications",
			Fields:      []string{FieldAllergies, FieldMedicalConditions, FieldPrimaryPhysician, FieldNotes, MedicationListKey},
		},
	}
}
