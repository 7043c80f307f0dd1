package types

import "fmt"

// FieldName identifies one lead attribute in the verification checklist
type FieldName string

// Lead field catalogue, in the order agents walk through it on a call.
const (
	FieldLeadVendor            FieldName = "lead_vendor"
	FieldCustomerFullName      FieldName = "customer_full_name"
	FieldStreetAddress         FieldName = "street_address"
	FieldCity                  FieldName = "city"
	FieldState                 FieldName = "state"
	FieldZipCode               FieldName = "zip_code"
	FieldPhoneNumber           FieldName = "phone_number"
	FieldEmail                 FieldName = "email"
	FieldDateOfBirth           FieldName = "date_of_birth"
	FieldAge                   FieldName = "age"
	FieldBirthState            FieldName = "birth_state"
	FieldSocialSecurity        FieldName = "social_security"
	FieldDriverLicense         FieldName = "driver_license"
	FieldHeight                FieldName = "height"
	FieldWeight                FieldName = "weight"
	FieldDoctorsName           FieldName = "doctors_name"
	FieldTobaccoUse            FieldName = "tobacco_use"
	FieldHealthConditions      FieldName = "health_conditions"
	FieldMedications           FieldName = "medications"
	FieldExistingCoverage      FieldName = "existing_coverage"
	FieldPreviousApplications  FieldName = "previous_applications"
	FieldCarrier               FieldName = "carrier"
	FieldProductType           FieldName = "product_type"
	FieldCoverageAmount        FieldName = "coverage_amount"
	FieldMonthlyPremium        FieldName = "monthly_premium"
	FieldDraftDate             FieldName = "draft_date"
	FieldFutureDraftDate       FieldName = "future_draft_date"
	FieldBeneficiaryDetails    FieldName = "beneficiary_details"
	FieldInstitutionName       FieldName = "institution_name"
	FieldRoutingNumber         FieldName = "routing_number"
	FieldAccountNumber         FieldName = "account_number"
	FieldAccountType           FieldName = "account_type"
	FieldCallPhoneLandline     FieldName = "call_phone_landline"
	FieldAdditionalInformation FieldName = "additional_information"
)

// FieldCatalogue is the fixed, ordered set of verifiable lead fields.
var FieldCatalogue = []FieldName{
	FieldLeadVendor, FieldCustomerFullName, FieldStreetAddress, FieldCity,
	FieldState, FieldZipCode, FieldPhoneNumber, FieldEmail,
	FieldDateOfBirth, FieldAge, FieldBirthState, FieldSocialSecurity,
	FieldDriverLicense, FieldHeight, FieldWeight, FieldDoctorsName,
	FieldTobaccoUse, FieldHealthConditions, FieldMedications, FieldExistingCoverage,
	FieldPreviousApplications, FieldCarrier, FieldProductType, FieldCoverageAmount,
	FieldMonthlyPremium, FieldDraftDate, FieldFutureDraftDate, FieldBeneficiaryDetails,
	FieldInstitutionName, FieldRoutingNumber, FieldAccountNumber, FieldAccountType,
	FieldCallPhoneLandline, FieldAdditionalInformation,
}

var fieldIndex = func() map[FieldName]int {
	m := make(map[FieldName]int, len(FieldCatalogue))
	for i, f := range FieldCatalogue {
		m[f] = i
	}
	return m
}()

// IsValid checks if the field belongs to the catalogue
func (f FieldName) IsValid() bool {
	_, ok := fieldIndex[f]
	return ok
}

// Ordinal returns the catalogue position, or -1 for unknown fields.
func (f FieldName) Ordinal() int {
	if i, ok := fieldIndex[f]; ok {
		return i
	}
	return -1
}

// NormalizeSnapshot rejects fields outside the catalogue, keeps the first value
// for duplicated names and orders the result by catalogue position.
func NormalizeSnapshot(in []FieldValue) ([]FieldValue, error) {
	seen := make(map[FieldName]bool, len(in))
	out := make([]FieldValue, len(FieldCatalogue))
	n := 0
	for _, fv := range in {
		if !fv.Name.IsValid() {
			return nil, fmt.Errorf("unknown lead field %q", fv.Name)
		}
		if seen[fv.Name] {
			continue
		}
		seen[fv.Name] = true
		out[fv.Name.Ordinal()] = fv
		n++
	}
	res := make([]FieldValue, 0, n)
	for _, fv := range out {
		if fv.Name != "" {
			res = append(res, fv)
		}
	}
	return res, nil
}
