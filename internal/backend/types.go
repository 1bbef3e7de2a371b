package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/iwvelando/loan-calculator/pkg/validation"
	"github.com/shopspring/decimal"
)

const redacted = "[REDACTED]"

// ID is an identifier the service may send as a JSON number or string.
type ID string

// UnmarshalJSON accepts 42, "42" and null.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a number or string: %w", err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string {
	return string(id)
}

// Password holds a secret that must never be printed or logged. It is sent
// verbatim in request bodies.
type Password string

// String redacts the password for fmt.Print* convenience.
func (p Password) String() string { return redacted }

// Format implements fmt.Formatter so every verb is redacted.
func (p Password) Format(f fmt.State, _ rune) {
	_, _ = io.WriteString(f, redacted)
}

// GoString redacts %#v.
func (p Password) GoString() string { return redacted }

// Registration is the sign-up form.
type Registration struct {
	FirstName       string   `json:"firstName"`
	LastName        string   `json:"lastName"`
	Username        string   `json:"username"`
	Email           string   `json:"email"`
	Password        Password `json:"password"`
	ConfirmPassword Password `json:"-"`
}

// Validate checks the sign-up form the way the signup page does: every
// field is required and the password must be confirmed.
func (r Registration) Validate() error {
	var v validation.Validator
	v.Required("firstName", r.FirstName)
	v.Required("lastName", r.LastName)
	v.Required("username", r.Username)
	v.Email("email", r.Email)
	if v.Required("password", string(r.Password)) && r.Password != r.ConfirmPassword {
		v.Add("confirmPassword", "passwords do not match")
	}
	return v.Err()
}

// Credentials is the login form.
type Credentials struct {
	Username string   `json:"username"`
	Password Password `json:"password"`
}

// Validate requires both fields.
func (c Credentials) Validate() error {
	var v validation.Validator
	v.Required("username", c.Username)
	v.Required("password", string(c.Password))
	return v.Err()
}

// Customer is the account returned by register and authenticate.
type Customer struct {
	ID        ID     `json:"id"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Username  string `json:"username,omitempty"`
	Email     string `json:"email,omitempty"`
}

// AuthResult is a session issued by the service. Token is empty when a
// registration response did not include one.
type AuthResult struct {
	Token    string
	Customer Customer
}

// CustomerID returns the id of the authenticated customer.
func (a AuthResult) CustomerID() string {
	return a.Customer.ID.String()
}

// UnmarshalJSON accepts {"token", "customer": {...}} as well as the flat
// {"token", "customerId"} and {"accessToken", "id"} shapes.
func (a *AuthResult) UnmarshalJSON(data []byte) error {
	var raw struct {
		Token       string    `json:"token"`
		AccessToken string    `json:"accessToken"`
		Customer    *Customer `json:"customer"`
		CustomerID  ID        `json:"customerId"`
		ID          ID        `json:"id"`
		Username    string    `json:"username"`
		Email       string    `json:"email"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	a.Token = raw.Token
	if a.Token == "" {
		a.Token = raw.AccessToken
	}
	if raw.Customer != nil {
		a.Customer = *raw.Customer
	} else {
		a.Customer = Customer{Username: raw.Username, Email: raw.Email}
	}
	if a.Customer.ID == "" {
		a.Customer.ID = raw.CustomerID
	}
	if a.Customer.ID == "" {
		a.Customer.ID = raw.ID
	}
	return nil
}

// LoanRequest is the body of a loan application.
type LoanRequest struct {
	FullName           string  `json:"fullName"`
	Email              string  `json:"email"`
	PhoneNumber        string  `json:"phoneNumber"`
	Amount             float64 `json:"amount"`
	LoanTerm           int     `json:"loanTerm"`
	RepaymentFrequency string  `json:"repaymentFrequency"`
	Purpose            string  `json:"purpose"`
	Location           string  `json:"location,omitempty"`
}

// LoanRecord is the service's view of a submitted application. Dates are
// kept as sent since the client only displays them.
type LoanRecord struct {
	ID                 ID              `json:"id,omitempty"`
	FullName           string          `json:"fullName"`
	Email              string          `json:"email"`
	PhoneNumber        string          `json:"phoneNumber"`
	Amount             decimal.Decimal `json:"amount"`
	LoanTerm           flexInt         `json:"loanTerm"`
	RepaymentFrequency string          `json:"repaymentFrequency"`
	Purpose            string          `json:"purpose"`
	Location           string          `json:"location,omitempty"`
	TotalInterest      decimal.Decimal `json:"totalInterest"`
	TotalRepayment     decimal.Decimal `json:"totalRepayment"`
	CreatedAt          string          `json:"createdAt,omitempty"`
	StartDate          string          `json:"startDate,omitempty"`
	EndDate            string          `json:"endDate,omitempty"`
	DueDate            string          `json:"dueDate,omitempty"`
}

// Term returns the loan term in months.
func (r LoanRecord) Term() int {
	return int(r.LoanTerm)
}

// flexInt accepts a JSON number or a numeric string.
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	var id ID
	if err := id.UnmarshalJSON(data); err != nil {
		return err
	}
	if id == "" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseFloat(string(id), 64)
	if err != nil {
		return fmt.Errorf("loan term %q is not a number", id)
	}
	*f = flexInt(n)
	return nil
}

// Statement lists the customer's loans.
type Statement struct {
	Loans []LoanRecord `json:"loans"`
}

// UnmarshalJSON accepts either a bare array of loans or an object with a
// loans (or content) array.
func (s *Statement) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		return json.Unmarshal(data, &s.Loans)
	}
	var raw struct {
		Loans   []LoanRecord `json:"loans"`
		Content []LoanRecord `json:"content"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.Loans = raw.Loans
	if s.Loans == nil {
		s.Loans = raw.Content
	}
	return nil
}

// Totals sums the amounts across the statement.
func (s Statement) Totals() (borrowed, repayable decimal.Decimal) {
	for _, loan := range s.Loans {
		borrowed = borrowed.Add(loan.Amount)
		repayable = repayable.Add(loan.TotalRepayment)
	}
	return borrowed, repayable
}

// errorBody is the error payload the service returns.
type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

func (e errorBody) text() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Error
}
