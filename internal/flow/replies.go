package flow

import (
	"fmt"
	"strings"

	"github.com/BTreeMap/LoanPipe/internal/extract"
	"github.com/BTreeMap/LoanPipe/internal/models"
	"github.com/BTreeMap/LoanPipe/internal/underwriting"
	"github.com/BTreeMap/LoanPipe/internal/util"
)

// Quick reply sets.
var (
	welcomeQuickReplies  = []string{"Yes, I need a loan", "Tell me about rates", "What documents needed?", "Check eligibility"}
	askNameQuickReplies  = []string{"My name is...", "Call me...", "Skip"}
	amountQuickReplies   = []string{"₹2 lakhs", "₹5 lakhs", "₹10 lakhs", "₹20 lakhs"}
	tenureQuickReplies   = []string{"1 year", "2 years", "3 years", "5 years"}
	purposeQuickReplies  = []string{"Home renovation", "Wedding", "Medical emergency", "Education", "Business", "Travel"}
	phoneQuickReplies    = []string{"9876543210 (Demo - Instant Approval)", "9876543211 (Demo - Salary Required)", "9876543212 (Demo - Rejection)"}
	kycQuickReplies      = []string{"Yes, correct", "No, update details", "Looks good"}
	sanctionQuickReplies = []string{"Download letter", "Apply for another loan", "Thank you", "Contact support"}
	rejectQuickReplies   = []string{"Apply for smaller amount", "Improve credit score", "Add co-applicant", "Contact support"}
	salaryQuickReplies   = []string{"Upload salary slip", "Try smaller amount", "Contact support"}
	errorQuickReplies    = []string{"Try again", "Contact support", "Start over"}
)

// Processing fee charged on every sanctioned loan.
const (
	ProcessingFee    = 999
	ProcessingFeeGST = 18
)

const (
	advertisedRateRange = "10.99% - 24.99%"
	sanctionRateLabel   = "12.99% per annum (reducing balance)"
)

func namePrefix(name string) string {
	if name == "" {
		return ""
	}
	return name + ", "
}

// addressed prefixes the reply with the applicant's name, or capitalises it when the name is unknown.
func addressed(name, reply string) string {
	if name != "" {
		return name + ", " + reply
	}
	return strings.ToUpper(reply[:1]) + reply[1:]
}

func welcomeText(lender, name string) string {
	var b strings.Builder
	if name != "" {
		fmt.Fprintf(&b, "Lovely to meet you, %s!\n\n", name)
	} else {
		fmt.Fprintf(&b, "Hi there! I'm your personal loan advisor from %s.\n\n", lender)
	}
	b.WriteString("I can help you get a personal loan for home renovation, a wedding, medical bills or any other goal.\n\n")
	b.WriteString("• Instant decision, often in under 5 minutes\n")
	b.WriteString("• Rates starting at 10.99% per annum\n")
	b.WriteString("• Minimal paperwork\n")
	b.WriteString("• Funds in your account within 24 hours\n\n")
	b.WriteString("Are you looking for a personal loan today?")
	return b.String()
}

func askNameText(lender string) string {
	return fmt.Sprintf("Hello! I'm your loan advisor from %s. Before we begin, what should I call you?", lender)
}

func ratesText(name string) string {
	return addressed(name, `here is how our personal loan rates work.

• Starting rate: 10.99% per annum for excellent credit profiles
• Typical range: ` + advertisedRateRange + ` per annum
• Reducing balance: you only pay interest on the outstanding amount

Indicative rates by credit score:
• 750 and above: 10.99% - 15.99%
• 700 - 749: 16.99% - 20.99%
• 650 - 699: 21.99% - 24.99%

Shall I check the rate you qualify for? It takes about two minutes.`)
}

func documentsText(name string) string {
	return addressed(name, `the paperwork is short.

Required for everyone:
• Aadhaar card for identity
• PAN card for tax verification

Only if needed:
• Latest salary slip, when the amount is above your pre-approved limit
• Three months of bank statements
• Employment letter for recent job changes

Ready to get started?`)
}

func eligibilityText(name string) string {
	return addressed(name, fmt.Sprintf(`here are the basics.

• Loan amount: %s to %s
• Tenure: 1 to 7 years
• Age: 21 - 65 years
• Credit score: 700 or above for instant approval
• Income: a monthly EMI of up to half your salary

Amounts up to your pre-approved limit are approved instantly. Up to twice the limit needs one salary slip.

Want me to check your exact eligibility?`, util.FormatRupees(extract.MinLoanAmount), util.FormatRupees(extract.MaxLoanAmount)))
}

var objectionReplies = []struct {
	keywords []string
	text     string
	replies  []string
}{
	{
		[]string{"rate", "rates", "interest", "expensive"},
		"I hear you on cost. Our rates start at 10.99%, well below the 18-36% most credit cards charge, and the exact rate depends on your credit profile. Checking it carries no obligation.",
		[]string{"Check my rate", "Tell me about rates", "Yes, let's proceed"},
	},
	{
		[]string{"time", "later", "busy"},
		"Understood, time matters. The whole application takes about five minutes here in chat, and you get a decision straight away.",
		[]string{"Okay, let's do it quickly", "Maybe later"},
	},
	{
		[]string{"documents", "document", "paperwork", "hassle"},
		"Most loans need just your Aadhaar and PAN. A salary slip is only requested for amounts above your pre-approved limit.",
		[]string{"Yes, let's try", "What about income proof?"},
	},
	{
		[]string{"credit", "score", "cibil"},
		"Checking your eligibility here does not affect your credit score. Applicants with a score of 700 or above are usually approved instantly.",
		[]string{"Check eligibility", "Tell me more"},
	},
	{
		[]string{"need", "why"},
		"A personal loan can cover planned expenses like a wedding or renovation, or an emergency, without touching your savings. Fixed EMIs keep repayments predictable.",
		[]string{"Yes, I need a loan", "Tell me about rates"},
	},
}

func objectionText(name, text string) (string, []string) {
	for _, o := range objectionReplies {
		if extract.ContainsAny(text, o.keywords...) {
			return addressed(name, o.text+"\n\nWould you like to see what you qualify for?"), o.replies
		}
	}
	return addressed(name, `no pressure at all. Checking your eligibility is:
• Free
• Without impact on your credit score
• Without any commitment
• Done in under two minutes

Shall we give it a try?`), []string{"Okay, let's try", "Tell me more", "What's the process?"}
}

func salesStartText() string {
	return fmt.Sprintf(`Great, let's get started!

How much would you like to borrow? You can choose anywhere from %s to %s. Say something like "5 lakhs" or "500000".`,
		util.FormatRupees(extract.MinLoanAmount), util.FormatRupees(extract.MaxLoanAmount))
}

func amountClarificationText() string {
	return fmt.Sprintf(`I couldn't read a loan amount between %s and %s there. Could you tell me the amount again, for example "5 lakhs" or "500000"?`,
		util.FormatRupees(extract.MinLoanAmount), util.FormatRupees(extract.MaxLoanAmount))
}

func tenureText(amount int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s it is. How would you like to repay it?\n\n", util.FormatRupees(amount))
	for _, months := range []int{12, 24, 36} {
		fmt.Fprintf(&b, "• %s - EMI %s\n", tenureLabel(months), util.FormatRupees(underwriting.EMI(amount, months, underwriting.QuoteAnnualRate)))
	}
	b.WriteString("\nYou can choose anywhere from 1 to 7 years. Say something like \"2 years\" or \"24 months\".")
	return b.String()
}

func tenureClarificationText() string {
	return `How long would you like to repay the loan? Anything from 12 to 84 months works, for example "2 years" or "24 months".`
}

func purposeText() string {
	return "Good choice. What will this loan help you with? A few words are enough."
}

func phoneText() string {
	return "Almost done. Please share your 10-digit mobile number for a quick OTP verification, for example 9876543210."
}

func phoneClarificationText() string {
	return "I need a valid 10-digit mobile number to continue. Could you check it and send it again?"
}

func salesSummaryText(in models.SalesIntake) string {
	emi := underwriting.EMI(in.LoanAmount, in.TenureMonths, underwriting.QuoteAnnualRate)
	return fmt.Sprintf(`Here is your loan summary:

• Loan amount: %s
• Tenure: %s
• Monthly EMI: %s
• Purpose: %s
• Interest rate: %s (depends on your profile)
• Processing fee: %s + GST`,
		util.FormatRupees(in.LoanAmount), tenureLabel(in.TenureMonths), util.FormatRupees(emi),
		extract.TitleCase(in.Purpose), advertisedRateRange, util.FormatRupees(ProcessingFee))
}

func tenureLabel(months int) string {
	years := months / 12
	switch {
	case months%12 != 0:
		return fmt.Sprintf("%d months", months)
	case years == 1:
		return "1 year (12 months)"
	default:
		return fmt.Sprintf("%d years (%d months)", years, months)
	}
}

func otpText(phone, otp string) string {
	return fmt.Sprintf(`Quick security check. I've sent a 4-digit OTP to your mobile number ending in %s.

(Demo OTP: %s)

Please enter the 4 digits here.`, lastDigits(phone, 2), otp)
}

func otpInvalidText() string {
	return "That OTP doesn't match. Please enter the 4-digit OTP sent to your mobile."
}

func otpReissuedText(reason, phone, otp string) string {
	return reason + "\n\n" + otpText(phone, otp)
}

func changeNumberText() string {
	return "Sure. Please send the new 10-digit mobile number."
}

func kycFoundText(c models.Customer) string {
	return fmt.Sprintf(`I found your details:

• Name: %s
• City: %s
• Age: %d years
• Credit score: %d
• Pre-approved limit: %s

Is this information correct?`, c.Name, c.City, c.Age, c.CreditScore, util.FormatRupees(c.PreapprovedLimit))
}

func kycNotFoundText() string {
	return `Welcome! You're new with us, so I need a few details to set you up:

• Full name
• City
• Age

Please share them in one message.`
}

func kycMismatchText() string {
	return "No problem. Please send your correct full name and current city."
}

func verificationCompleteText() string {
	return "Verification complete. Mobile number and identity confirmed. Checking your eligibility now..."
}

func detailsUpdatedText() string {
	return "Thanks, your details are saved. Mobile number and identity confirmed. Checking your eligibility now..."
}

func approvalText(app *models.Applicant) string {
	greeting := "Congratulations"
	if first := firstName(app.Name); first != "" {
		greeting += " " + first
	}
	emi := underwriting.EMI(app.LoanAmount, app.TenureMonths, underwriting.SanctionAnnualRate)
	return fmt.Sprintf(`%s! Your loan is APPROVED.

• Amount: %s
• Interest rate: 12.99%% per annum
• Tenure: %s
• Monthly EMI: %s
• Processing fee: %s + GST`,
		greeting, util.FormatRupees(app.LoanAmount), tenureLabel(app.TenureMonths), util.FormatRupees(emi), util.FormatRupees(ProcessingFee))
}

func rejectionText(name string, reason underwriting.Reason, limit int) string {
	var body string
	switch reason {
	case underwriting.ReasonCreditScoreLow:
		body = fmt.Sprintf(`we can't approve the loan right now because your credit score is below our minimum of %d.

What you can do:
• Pay bills on time and clear outstanding dues
• Reapply after 3-6 months
• Add a co-applicant with a good credit score`, underwriting.MinCreditScore)
	case underwriting.ReasonAmountTooHigh:
		body = fmt.Sprintf(`the requested amount is above what we can lend on your profile.

What you can do:
• Apply for %s or less
• Add a co-applicant to increase eligibility
• Reapply after 6 months`, util.FormatRupees(underwriting.SalaryProofMultiple*limit))
	case underwriting.ReasonHighEMIRatio:
		body = `the EMI would be more than half of your monthly income.

What you can do:
• Choose a longer tenure to lower the EMI
• Apply for a smaller amount
• Reapply when your income increases`
	default:
		body = "we can't approve the loan at this time."
	}
	return "I'm sorry, " + namePrefix(name) + body + "\n\nWould you like help with any of these options?"
}

func rejectionReminderText() string {
	return "Your application was not approved this time. You can apply again with a smaller amount, or contact support for help."
}

func salaryRequestText(app *models.Applicant) string {
	return fmt.Sprintf(`Additional verification needed. Your requested amount of %s is above your pre-approved limit of %s.

Please upload your latest salary slip (PDF or image) so I can confirm your income and give you a final decision.`,
		util.FormatRupees(app.LoanAmount), util.FormatRupees(app.PreapprovedLimit))
}

func salaryReminderText() string {
	return "I'm waiting for your salary slip. Please upload it to get your final decision."
}

func sanctionText(app *models.Applicant, letter models.SanctionLetter, url string) string {
	name := app.Name
	if name == "" {
		name = defaultCustomerName
	}
	return fmt.Sprintf(`Your sanction letter is ready, %s!

• Approval ID: %s
• Approval date: %s
• Expected disbursal: %s
• First EMI due: %s

Download your sanction letter: %s

Next steps:
1. Save the sanction letter
2. Sign the loan agreement we send you
3. Receive the funds within 24 hours`,
		name, letter.ApprovalID, letter.ApprovalDate, letter.DisbursalDate, letter.FirstEMIDate, url)
}

func sanctionClosingText(app *models.Applicant, wantsDownload bool) string {
	if wantsDownload && app.Document != nil {
		return "Here is your sanction letter: " + app.Document.URL
	}
	return "Your loan has been approved and your sanction letter is ready. Is there anything else I can help you with?"
}

func processingIssueText() string {
	return "Sorry, we hit a processing issue with your application. Please try again in a moment."
}

func firstName(name string) string {
	if name == "" || name == defaultCustomerName {
		return ""
	}
	if fields := strings.Fields(name); len(fields) > 0 {
		return fields[0]
	}
	return ""
}

func lastDigits(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
