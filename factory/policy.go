/*
Package factory converts policy documents into vacation.Policy values.

PURPOSE:
  The accrual table, validity window and pre-creation window are
  configuration. HR can ship a YAML (or JSON) file instead of a code
  change; the factory validates it and builds the vacation.Policy the
  calculator runs on. Without a file the statutory policy applies.

DOCUMENT SCHEMA:
  name: statutory
  validity_months: 18
  pre_creation_months: 6
  tiers:
    - {from_year: 1, days: 12}
    - {from_year: 2, days: 14}
    - {from_year: 6, days: 22}

  A tier applies from its from_year until the next tier starts. Grants
  must never decrease. Omitted window lengths take the defaults; an
  explicit pre_creation_months: 0 disables pre-creation.

USAGE:
  f := factory.NewPolicyFactory()
  policy, err := f.LoadFile("policy.yaml")

SEE ALSO:
  - vacation/accrual.go: Schedule and tier validation
  - vacation/cycle.go: Policy
*/
package factory

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/warp/vacation-engine/vacation"
)

// =============================================================================
// DOCUMENT TYPES
// =============================================================================

// PolicyDocument is the on-disk representation of a policy. JSON is
// accepted too since it is valid YAML.
type PolicyDocument struct {
	Name              string     `yaml:"name" json:"name"`
	ValidityMonths    *int       `yaml:"validity_months,omitempty" json:"validity_months,omitempty" validate:"omitempty,gte=1,lte=120"`
	PreCreationMonths *int       `yaml:"pre_creation_months,omitempty" json:"pre_creation_months,omitempty" validate:"omitempty,gte=0,lte=24"`
	Tiers             []TierSpec `yaml:"tiers" json:"tiers" validate:"required,min=1,dive"`
}

// TierSpec is one row of the accrual table.
type TierSpec struct {
	FromYear int `yaml:"from_year" json:"from_year" validate:"gte=1"`
	Days     int `yaml:"days" json:"days" validate:"gte=0,lte=366"`
}

// =============================================================================
// FACTORY
// =============================================================================

// PolicyFactory parses and validates policy documents.
type PolicyFactory struct {
	validate *validator.Validate
}

func NewPolicyFactory() *PolicyFactory {
	return &PolicyFactory{validate: validator.New()}
}

// ParsePolicy builds a policy from a YAML or JSON document.
func (f *PolicyFactory) ParsePolicy(data []byte) (vacation.Policy, error) {
	var doc PolicyDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return vacation.Policy{}, fmt.Errorf("factory: decode policy: %w", err)
	}
	return f.FromDocument(doc)
}

// LoadFile reads and parses the policy at path.
func (f *PolicyFactory) LoadFile(path string) (vacation.Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return vacation.Policy{}, fmt.Errorf("factory: read policy: %w", err)
	}
	return f.ParsePolicy(data)
}

// FromDocument validates doc and converts it.
func (f *PolicyFactory) FromDocument(doc PolicyDocument) (vacation.Policy, error) {
	if err := f.validate.Struct(doc); err != nil {
		return vacation.Policy{}, fmt.Errorf("factory: invalid policy %q: %w", doc.Name, err)
	}

	tiers := make([]vacation.Tier, len(doc.Tiers))
	for i, t := range doc.Tiers {
		tiers[i] = vacation.Tier{FromYear: t.FromYear, Days: t.Days}
	}
	schedule, err := vacation.NewSchedule(tiers)
	if err != nil {
		return vacation.Policy{}, fmt.Errorf("factory: invalid policy %q: %w", doc.Name, err)
	}

	policy := vacation.Policy{
		Schedule:          schedule,
		ValidityMonths:    vacation.DefaultValidityMonths,
		PreCreationMonths: vacation.DefaultPreCreationMonths,
	}
	if doc.ValidityMonths != nil {
		policy.ValidityMonths = *doc.ValidityMonths
	}
	if doc.PreCreationMonths != nil {
		policy.PreCreationMonths = *doc.PreCreationMonths
	}
	if err := policy.Validate(); err != nil {
		return vacation.Policy{}, fmt.Errorf("factory: invalid policy %q: %w", doc.Name, err)
	}
	return policy, nil
}

// ToDocument is the inverse of FromDocument.
func (f *PolicyFactory) ToDocument(name string, p vacation.Policy) PolicyDocument {
	validity, preCreation := p.ValidityMonths, p.PreCreationMonths
	doc := PolicyDocument{
		Name:              name,
		ValidityMonths:    &validity,
		PreCreationMonths: &preCreation,
	}
	for _, t := range p.Schedule.Tiers() {
		doc.Tiers = append(doc.Tiers, TierSpec{FromYear: t.FromYear, Days: t.Days})
	}
	return doc
}

// Marshal renders p as YAML.
func (f *PolicyFactory) Marshal(name string, p vacation.Policy) ([]byte, error) {
	return yaml.Marshal(f.ToDocument(name, p))
}

// DefaultPolicyYAML is the statutory policy as a document, used by
// "vacationctl schedule" and as a starting point for custom files.
func DefaultPolicyYAML() []byte {
	out, err := NewPolicyFactory().Marshal("statutory", vacation.DefaultPolicy())
	if err != nil {
		panic(err)
	}
	return out
}
