// Package terminal drives an intake wizard over a line-oriented console.
package terminal

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/wolfman30/clinic-intake/internal/intake"
)

// Commands accepted at any field prompt.
const (
	CmdBack = ":back"
	CmdQuit = ":quit"
)

// ErrInputClosed is returned when input ends before the wizard finishes.
var ErrInputClosed = errors.New("terminal: input closed")

var fieldLabels = map[string]string{
	intake.FieldFirstName:                    "First name",
	intake.FieldMiddleName:                   "Middle name",
	intake.FieldLastName:                     "Last name",
	intake.FieldDateOfBirth:                  "Date of birth (YYYY-MM-DD)",
	intake.FieldGender:                       "Gender",
	intake.FieldPreferredLanguage:            "Preferred language",
	intake.FieldEmail:                        "Email",
	intake.FieldPhone:                        "Phone",
	intake.FieldAddress:                      "Address",
	intake.FieldCity:                         "City",
	intake.FieldState:                        "State",
	intake.FieldZipCode:                      "ZIP code",
	intake.FieldCountry:                      "Country",
	intake.FieldEmergencyContactName:         "Emergency contact name",
	intake.FieldEmergencyContactPhone:        "Emergency contact phone",
	intake.FieldEmergencyContactRelationship: "Relationship",
	intake.FieldInsuranceProvider:            "Insurance provider",
	intake.FieldInsurancePolicyNumber:        "Policy number",
	intake.FieldInsuranceGroupNumber:         "Group number",
	intake.FieldInsuranceHolderName:          "Policy holder",
	intake.FieldAllergies:                    "Allergies",
	intake.FieldMedicalConditions:            "Medical conditions",
	intake.FieldPrimaryPhysician:             "Primary physician",
	intake.FieldNotes:                        "Notes",
}

// Console reads answers from in and writes prompts to out. It is also the
// wizard's Notifier and Prompter.
type Console struct {
	in  *bufio.Reader
	out io.Writer
}

// NewConsole creates a console over in and out.
func NewConsole(in io.Reader, out io.Writer) *Console {
	return &Console{in: bufio.NewReader(in), out: out}
}

// Notify prints a one-shot message.
func (c *Console) Notify(message string) {
	fmt.Fprintf(c.out, "! %s\n", message)
}

// Confirm asks a yes/no question. Anything but y/yes, including closed
// input, declines.
func (c *Console) Confirm(message string) bool {
	fmt.Fprintf(c.out, "%s [y/N]: ", message)
	line, err := c.readLine()
	if err != nil {
		return false
	}
	switch strings.ToLower(line) {
	case "y", "yes":
		return true
	}
	return false
}

func (c *Console) readLine() (string, error) {
	line, err := c.in.ReadString('\n')
	if err != nil && (line == "" || !errors.Is(err, io.EOF)) {
		return "", ErrInputClosed
	}
	return strings.TrimSpace(line), nil
}

// Run walks w step by step until it submits or is closed. It returns the
// saved record, or nil when the user quit.
func (c *Console) Run(ctx context.Context, w *intake.Wizard) (*intake.Record, error) {
	steps := w.Steps()
	for !w.Closed() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		step := steps[w.Current()-1]
		fmt.Fprintf(c.out, "\n== Step %d of %d: %s ==\n", step.Number, len(steps), step.Label)
		if step.Description != "" {
			fmt.Fprintln(c.out, step.Description)
		}

		nav, err := c.promptStep(w, step)
		if err != nil {
			return nil, err
		}
		switch nav {
		case navBack:
			_, _ = w.Previous()
			continue
		case navQuit:
			if w.Close(c) {
				fmt.Fprintln(c.out, "Registration discarded.")
				return nil, nil
			}
			continue
		}

		if w.Current() < len(steps) {
			errs, _, err := w.Next()
			if err != nil {
				return nil, err
			}
			c.printErrors(errs)
			continue
		}

		rec, done, err := c.submit(ctx, w)
		if err != nil || done {
			return rec, err
		}
	}
	return nil, nil
}

type navigation int

const (
	navForward navigation = iota
	navBack
	navQuit
)

func (c *Console) promptStep(w *intake.Wizard, step intake.Step) (navigation, error) {
	errs := w.Errors()
	for _, key := range step.Fields {
		if key == intake.MedicationListKey {
			nav, err := c.promptMedications(w)
			if err != nil || nav != navForward {
				return nav, err
			}
			continue
		}

		current, _ := w.Draft().Get(key)
		label := fieldLabels[key]
		if label == "" {
			label = key
		}
		if msg, ok := errs[key]; ok {
			fmt.Fprintf(c.out, "  (%s)\n", msg)
		}
		if current != "" {
			fmt.Fprintf(c.out, "%s [%s]: ", label, current)
		} else {
			fmt.Fprintf(c.out, "%s: ", label)
		}

		line, err := c.readLine()
		if err != nil {
			return navForward, err
		}
		switch line {
		case CmdBack:
			return navBack, nil
		case CmdQuit:
			return navQuit, nil
		case "":
			continue
		}
		if err := w.SetField(key, line); err != nil {
			return navForward, err
		}
	}
	return navForward, nil
}

func (c *Console) promptMedications(w *intake.Wizard) (navigation, error) {
	for {
		meds := w.Draft().MedicationList
		if len(meds) > 0 {
			fmt.Fprintln(c.out, "Current medications:")
			for i, m := range meds {
				fmt.Fprintf(c.out, "  %d. %s %s", i+1, m.Name, m.Dosage)
				if m.Frequency != "" {
					fmt.Fprintf(c.out, ", %s", m.Frequency)
				}
				fmt.Fprintln(c.out)
			}
		}
		fmt.Fprint(c.out, "Medications (a = add, r <n> = remove, enter = continue): ")
		line, err := c.readLine()
		if err != nil {
			return navForward, err
		}
		switch {
		case line == "":
			return navForward, nil
		case line == CmdBack:
			return navBack, nil
		case line == CmdQuit:
			return navQuit, nil
		case line == "a":
			if err := c.addMedication(w); err != nil {
				return navForward, err
			}
		case strings.HasPrefix(line, "r "):
			var n int
			if _, err := fmt.Sscanf(line, "r %d", &n); err != nil || n < 1 || n > len(meds) {
				fmt.Fprintln(c.out, "No such medication.")
				continue
			}
			w.RemoveMedication(meds[n-1].ID)
		default:
			fmt.Fprintln(c.out, "Unknown choice.")
		}
	}
}

func (c *Console) addMedication(w *intake.Wizard) error {
	var m intake.Medication
	for _, f := range []struct {
		label string
		dst   *string
	}{
		{"  Name", &m.Name},
		{"  Dosage", &m.Dosage},
		{"  Frequency", &m.Frequency},
		{"  Prescribing doctor", &m.PrescribingDoctor},
	} {
		fmt.Fprintf(c.out, "%s: ", f.label)
		line, err := c.readLine()
		if err != nil {
			return err
		}
		*f.dst = line
	}
	if _, ok := w.AddMedication(m); !ok {
		fmt.Fprintln(c.out, "Skipped: name and dosage are required.")
	}
	return nil
}

// submit returns done=true once the wizard has closed.
func (c *Console) submit(ctx context.Context, w *intake.Wizard) (*intake.Record, bool, error) {
	fmt.Fprintln(c.out, "Saving...")
	res, err := w.Submit(ctx)
	if err != nil {
		return nil, false, err
	}
	switch res.Outcome {
	case intake.OutcomeSubmitted:
		id := ""
		if res.Record != nil {
			id = res.Record.ID
		}
		fmt.Fprintf(c.out, "Patient record saved (%s).\n", id)
		return res.Record, true, nil
	case intake.OutcomeInvalid:
		fmt.Fprintf(c.out, "Please fix step %d.\n", w.Current())
		c.printErrors(res.Errors)
	case intake.OutcomeRejected:
		fmt.Fprintln(c.out, "The clinic rejected some fields. Use :back to correct them.")
		c.printErrors(res.Errors)
	case intake.OutcomeBusy:
		fmt.Fprintln(c.out, "A save is already in progress.")
	}
	// OutcomeFailed was already reported through Notify.
	return nil, false, nil
}

func (c *Console) printErrors(errs intake.FieldErrors) {
	for _, key := range errs.Keys() {
		fmt.Fprintf(c.out, "  - %s\n", errs[key])
	}
}
