package decision

import "math"

const (
	defaultCreditScore   = 600.0
	defaultAnnualSalary  = 1.0
	defaultLoanAmount    = 0.0
	defaultRepaymentTerm = 1.0

	minCreditScore  = 580.0
	maxDebtToIncome = 1.0

	stubApprovedProbability = 0.6
	stubRejectedProbability = 0.3

	ReasonLowCreditScore = "Low credit score"
	ReasonHighDTI        = "High DTI"
)

// stubContributions are illustrative and not derived from the profile
var stubContributions = []Contribution{
	{Name: "credit_score", Weight: 0.5},
	{Name: "dti", Weight: -0.3},
	{Name: "loan_amount", Weight: -0.2},
}

// Heuristic decides from credit score and debt-to-income alone. It is deterministic and
// never fails: absent, zero or unparseable inputs take their defaults and every
// division is guarded.
func Heuristic(profile Profile) PredictionResult {
	credit := math.Trunc(profile.numberOr("credit_score", defaultCreditScore))
	salary := profile.numberOr("annual_salary", defaultAnnualSalary)
	loanAmount := profile.numberOr("loan_amount", defaultLoanAmount)
	term := math.Trunc(profile.numberOr("repayment_term_months", defaultRepaymentTerm))

	monthlyIncome := salary / 12.0
	installment := loanAmount / math.Max(term, 1)
	dti := installment / math.Max(monthlyIncome, 1)

	result := PredictionResult{
		Decision:      Approved,
		Probability:   stubApprovedProbability,
		Contributions: append([]Contribution(nil), stubContributions...),
		ModelVersion:  VersionStub,
	}

	switch {
	case credit < minCreditScore:
		result.Decision = Rejected
		result.Reason = ReasonLowCreditScore
	case dti > maxDebtToIncome:
		result.Decision = Rejected
		result.Reason = ReasonHighDTI
	}

	if result.Decision == Rejected {
		result.Probability = stubRejectedProbability
	}
	return result
}

// numberOr returns the numeric value of key, or def when it is absent, zero, or not a finite number
func (p Profile) numberOr(key string, def float64) float64 {
	v, present, err := toFloat(p[key])
	if err != nil || !present || v == 0 || !finite(v) {
		return def
	}
	return v
}
