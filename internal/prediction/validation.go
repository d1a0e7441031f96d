package prediction

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"

	"github.com/ZanzyTHEbar/loan-decision/internal/decision"
	apperrors "github.com/ZanzyTHEbar/loan-decision/internal/errors"
)

type fieldKind int

const (
	kindNumber fieldKind = iota
	kindText
	kindFlag
)

type fieldRule struct {
	kind fieldKind
	tag  string
}

// profileFields are the only keys a profile update may set, with the bounds each must satisfy
var profileFields = map[string]fieldRule{
	"gender":                   {kindText, "max=32"},
	"marital_status":           {kindText, "max=32"},
	"dependents":               {kindNumber, "gte=0,lte=20"},
	"education":                {kindText, "max=64"},
	"age":                      {kindNumber, "gte=0,lte=120"},
	"job_title":                {kindText, "max=128"},
	"annual_salary":            {kindNumber, "gte=0"},
	"collateral_value":         {kindNumber, "gte=0"},
	"savings_balance":          {kindNumber, "gte=0"},
	"employment_type":          {kindText, "max=64"},
	"contract_years":           {kindNumber, "gte=0,lte=60"},
	"previous_loan":            {kindFlag, ""},
	"previous_loan_status":     {kindText, "max=64"},
	"previous_loan_amount":     {kindNumber, "gte=0"},
	"total_emi_per_month":      {kindNumber, "gte=0"},
	"loan_purpose":             {kindText, "max=64"},
	"loan_amount":              {kindNumber, "gte=0"},
	"repayment_term_months":    {kindNumber, "gte=0,lte=600"},
	"additional_income_name":   {kindText, "max=64"},
	"additional_income_amount": {kindNumber, "gte=0"},
	"num_credit_cards":         {kindNumber, "gte=0,lte=100"},
	"avg_credit_util_percent":  {kindNumber, "gte=0,lte=100"},
	"late_payment_history":     {kindFlag, ""},
	"loan_insurance":           {kindFlag, ""},
	"credit_score":             {kindNumber, "gte=0,lte=900"},
}

// ProfileFields lists the updatable profile keys in sorted order
func ProfileFields() []string {
	keys := lo.Keys(profileFields)
	sort.Strings(keys)
	return keys
}

var validate = validator.New()

// FilterUpdate keeps the allow-listed keys of payload and checks each value against its
// bounds. Null values are kept and clear the stored field. All violations are reported
// together.
func FilterUpdate(payload map[string]interface{}) (decision.Profile, error) {
	update := decision.Profile(lo.PickByKeys(payload, lo.Filter(lo.Keys(payload), func(k string, _ int) bool {
		_, ok := profileFields[k]
		return ok
	})))

	violations := map[string]string{}
	for key, value := range update {
		if value == nil {
			continue
		}
		if err := checkField(profileFields[key], value); err != nil {
			violations[key] = err.Error()
		}
	}

	if len(violations) > 0 {
		return nil, apperrors.NewValidationErrorWithMap(violations)
	}
	return update, nil
}

func checkField(rule fieldRule, value interface{}) error {
	switch rule.kind {
	case kindNumber:
		n, err := numberValue(value)
		if err != nil {
			return err
		}
		if err := validate.Var(n, rule.tag); err != nil {
			return fmt.Errorf("must satisfy %s", rule.tag)
		}
	case kindText:
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("must be a string")
		}
		if err := validate.Var(s, rule.tag); err != nil {
			return fmt.Errorf("must satisfy %s", rule.tag)
		}
	case kindFlag:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("must be a boolean")
		}
	}
	return nil
}

func numberValue(value interface{}) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("must be a number")
		}
		return f, nil
	default:
		return 0, fmt.Errorf("must be a number")
	}
}
