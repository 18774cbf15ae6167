package intake

// Payload is the backend-shaped projection of a Draft. It carries the
// medications collection under the backend key only.
type Payload struct {
	FirstName         string `json:"firstName"`
	MiddleName        string `json:"middleName"`
	LastName          string `json:"lastName"`
	DateOfBirth       string `json:"dateOfBirth"`
	Gender            string `json:"gender"`
	PreferredLanguage string `json:"preferredLanguage"`

	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
	City    string `json:"city"`
	State   string `json:"state"`
	ZipCode string `json:"zipCode"`
	Country string `json:"country"`

	EmergencyContactName         string `json:"emergencyContactName"`
	EmergencyContactPhone        string `json:"emergencyContactPhone"`
	EmergencyContactRelationship string `json:"emergencyContactRelationship"`

	InsuranceProvider     string `json:"insuranceProvider"`
	InsurancePolicyNumber string `json:"insurancePolicyNumber"`
	InsuranceGroupNumber  string `json:"insuranceGroupNumber"`
	InsuranceHolderName   string `json:"insuranceHolderName"`

	Allergies         string `json:"allergies"`
	MedicalConditions string `json:"medicalConditions"`
	PrimaryPhysician  string `json:"primaryPhysician"`
	Notes             string `json:"notes"`

	Medications []Medication `json:"medications"`
}

// ToPayload projects d into the submission shape. Scalars are copied
// verbatim; the medications collection moves to the backend key and is
// never nil so it encodes as [].
func ToPayload(d *Draft) Payload {
	meds := make([]Medication, 0, len(d.MedicationList))
	meds = append(meds, d.MedicationList...)
	return Payload{
		FirstName:         d.FirstName,
		MiddleName:        d.MiddleName,
		LastName:          d.LastName,
		DateOfBirth:       d.DateOfBirth,
		Gender:            d.Gender,
		PreferredLanguage: d.PreferredLanguage,

		Email:   d.Email,
		Phone:   d.Phone,
		Address: d.Address,
		City:    d.City,
		State:   d.State,
		ZipCode: d.ZipCode,
		Country: d.Country,

		EmergencyContactName:         d.EmergencyContactName,
		EmergencyContactPhone:        d.EmergencyContactPhone,
		EmergencyContactRelationship: d.EmergencyContactRelationship,

		InsuranceProvider:     d.InsuranceProvider,
		InsurancePolicyNumber: d.InsurancePolicyNumber,
		InsuranceGroupNumber:  d.InsuranceGroupNumber,
		InsuranceHolderName:   d.InsuranceHolderName,

		Allergies:         d.Allergies,
		MedicalConditions: d.MedicalConditions,
		PrimaryPhysician:  d.PrimaryPhysician,
		Notes:             d.Notes,

		Medications: meds,
	}
}
