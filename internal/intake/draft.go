package intake

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// Field keys. Each key is both the host binding and the wire field name.
const (
	FieldFirstName         = "firstName"
	FieldMiddleName        = "middleName"
	FieldLastName          = "lastName"
	FieldDateOfBirth       = "dateOfBirth"
	FieldGender            = "gender"
	FieldPreferredLanguage = "preferredLanguage"

	FieldEmail   = "email"
	FieldPhone   = "phone"
	FieldAddress = "address"
	FieldCity    = "city"
	FieldState   = "state"
	FieldZipCode = "zipCode"
	FieldCountry = "country"

	FieldEmergencyContactName         = "emergencyContactName"
	FieldEmergencyContactPhone        = "emergencyContactPhone"
	FieldEmergencyContactRelationship = "emergencyContactRelationship"

	FieldInsuranceProvider     = "insuranceProvider"
	FieldInsurancePolicyNumber = "insurancePolicyNumber"
	FieldInsuranceGroupNumber  = "insuranceGroupNumber"
	FieldInsuranceHolderName   = "insuranceHolderName"

	FieldAllergies         = "allergies"
	FieldMedicalConditions = "medicalConditions"
	FieldPrimaryPhysician  = "primaryPhysician"
	FieldNotes             = "notes"

	// MedicationListKey is the host-side key of the medications collection.
	MedicationListKey = "medicationList"
	// MedicationsWireKey is the key the backend expects for the same collection.
	MedicationsWireKey = "medications"
)

// DefaultCountry is applied to blank drafts.
const DefaultCountry = "United States"

// Medication is one entry of the medications sub-collection. ID is
// generated locally so an entry can be targeted for removal.
type Medication struct {
	ID                string `json:"id,omitempty"`
	Name              string `json:"name"`
	Dosage            string `json:"dosage"`
	Frequency         string `json:"frequency"`
	PrescribingDoctor string `json:"prescribingDoctor"`
}

// Draft is the in-progress record collected across wizard steps.
type Draft struct {
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

	MedicationList []Medication `json:"medicationList"`
}

// Record is a patient record as returned by the backend. Medications is kept
// raw because the backend may hand it back either as a JSON array or as a
// string holding a serialized array.
type Record struct {
	ID string `json:"id"`
	Draft
	Medications json.RawMessage `json:"medications,omitempty"`
	CreatedAt   string          `json:"createdAt,omitempty"`
	UpdatedAt   string          `json:"updatedAt,omitempty"`

	raw json.RawMessage
}

// UnmarshalJSON keeps the original bytes so the record can be handed back
// to callers exactly as the backend sent it.
func (r *Record) UnmarshalJSON(data []byte) error {
	type plain Record
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = Record(p)
	r.raw = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON returns the backend's bytes when the record was decoded from a
// response, and the struct encoding otherwise.
func (r Record) MarshalJSON() ([]byte, error) {
	if len(r.raw) > 0 {
		return r.raw, nil
	}
	type plain Record
	return json.Marshal(plain(r))
}

// NewDraft returns a blank draft.
func NewDraft(country string) *Draft {
	d := &Draft{}
	d.reset(country)
	return d
}

// DraftFromRecord copies every scalar field of rec and decodes its
// medications collection.
func DraftFromRecord(rec *Record) *Draft {
	d := rec.Draft
	d.MedicationList = DecodeMedications(rec.Medications)
	return &d
}

func (d *Draft) reset(country string) {
	if country == "" {
		country = DefaultCountry
	}
	*d = Draft{Country: country, MedicationList: []Medication{}}
}

// DecodeMedications parses the backend representation of the medications
// collection. Both a JSON array and a JSON string containing an array are
// accepted; anything else yields an empty collection.
func DecodeMedications(raw json.RawMessage) []Medication {
	out := []Medication{}
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return out
	}
	if strings.HasPrefix(trimmed, `"`) {
		var serialized string
		if err := json.Unmarshal(raw, &serialized); err != nil {
			return out
		}
		raw = json.RawMessage(serialized)
	}
	var meds []Medication
	if err := json.Unmarshal(raw, &meds); err != nil {
		return out
	}
	for _, m := range meds {
		if m.ID == "" {
			m.ID = newMedicationID()
		}
		out = append(out, m)
	}
	return out
}

// Get returns the scalar value for key.
func (d *Draft) Get(key string) (string, bool) {
	ref := d.ref(key)
	if ref == nil {
		return "", false
	}
	return *ref, true
}

// Set overwrites a scalar field.
func (d *Draft) Set(key, value string) error {
	ref := d.ref(key)
	if ref == nil {
		return ErrUnknownField
	}
	*ref = value
	return nil
}

// AddMedication appends m when both name and dosage are non-blank and
// reports whether it did. Incomplete entries are dropped without error.
func (d *Draft) AddMedication(m Medication) (Medication, bool) {
	if strings.TrimSpace(m.Name) == "" || strings.TrimSpace(m.Dosage) == "" {
		return Medication{}, false
	}
	m.ID = newMedicationID()
	d.MedicationList = append(d.MedicationList, m)
	return m, true
}

// RemoveMedication drops the entry with the given id, if any.
func (d *Draft) RemoveMedication(id string) bool {
	for i, m := range d.MedicationList {
		if m.ID == id {
			d.MedicationList = append(d.MedicationList[:i], d.MedicationList[i+1:]...)
			return true
		}
	}
	return false
}

// HasName reports whether any of the name fields holds text.
func (d *Draft) HasName() bool {
	return strings.TrimSpace(d.FirstName) != "" ||
		strings.TrimSpace(d.MiddleName) != "" ||
		strings.TrimSpace(d.LastName) != ""
}

// Clone returns a deep copy.
func (d *Draft) Clone() *Draft {
	c := *d
	c.MedicationList = append([]Medication{}, d.MedicationList...)
	return &c
}

// FieldKeys lists every scalar key in section order.
func FieldKeys() []string {
	return []string{
		FieldFirstName, FieldMiddleName, FieldLastName, FieldDateOfBirth, FieldGender, FieldPreferredLanguage,
		FieldEmail, FieldPhone, FieldAddress, FieldCity, FieldState, FieldZipCode, FieldCountry,
		FieldEmergencyContactName, FieldEmergencyContactPhone, FieldEmergencyContactRelationship,
		FieldInsuranceProvider, FieldInsurancePolicyNumber, FieldInsuranceGroupNumber, FieldInsuranceHolderName,
		FieldAllergies, FieldMedicalConditions, FieldPrimaryPhysician, FieldNotes,
	}
}

func (d *Draft) ref(key string) *string {
	switch key {
	case FieldFirstName:
		return &d.FirstName
	case FieldMiddleName:
		return &d.MiddleName
	case FieldLastName:
		return &d.LastName
	case FieldDateOfBirth:
		return &d.DateOfBirth
	case FieldGender:
		return &d.Gender
	case FieldPreferredLanguage:
		return &d.PreferredLanguage
	case FieldEmail:
		return &d.Email
	case FieldPhone:
		return &d.Phone
	case FieldAddress:
		return &d.Address
	case FieldCity:
		return &d.City
	case FieldState:
		return &d.State
	case FieldZipCode:
		return &d.ZipCode
	case FieldCountry:
		return &d.Country
	case FieldEmergencyContactName:
		return &d.EmergencyContactName
	case FieldEmergencyContactPhone:
		return &d.EmergencyContactPhone
	case FieldEmergencyContactRelationship:
		return &d.EmergencyContactRelationship
	case FieldInsuranceProvider:
		return &d.InsuranceProvider
	case FieldInsurancePolicyNumber:
		return &d.InsurancePolicyNumber
	case FieldInsuranceGroupNumber:
		return &d.InsuranceGroupNumber
	case FieldInsuranceHolderName:
		return &d.InsuranceHolderName
	case FieldAllergies:
		return &d.Allergies
	case FieldMedicalConditions:
		return &d.MedicalConditions
	case FieldPrimaryPhysician:
		return &d.PrimaryPhysician
	case FieldNotes:
		return &d.Notes
	}
	return nil
}

// newMedicationID returns a time-ordered unique id (UUIDv7).
func newMedicationID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
