package models

import (
	"fmt"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/estatedesk/internal/parser"
)

const dateLayout = "2006-01-02"

var (
	currencyRe = regexp.MustCompile(`^[A-Z]{3}$`)
	emailRe    = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	filenameRe = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)
)

func formatMoney(minor int64, currency string) string {
	sign := ""
	if minor < 0 {
		sign, minor = "-", -minor
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, minor/100, minor%100, currency)
}

// Property is a unit the office sells, rents or manages.
type Property struct {
	Title   string `json:"title"`
	Address string `json:"address"`
	City    string `json:"city,omitempty"`
	Price   int64  `json:"price"`
	Status  string `json:"status"`
}

func (p *Property) normalize() {
	p.Title = strings.TrimSpace(p.Title)
	p.Address = strings.TrimSpace(p.Address)
	if p.Status == "" {
		p.Status = "available"
	}
}

func (p *Property) label() string {
	if p.City == "" {
		return p.Title
	}
	return p.Title + ", " + p.City
}

// Validate checks the property invariants.
func (p *Property) Validate() error {
	return validation.ValidateStruct(p,
		validation.Field(&p.Title, validation.Required, validation.Length(1, 200)),
		validation.Field(&p.Address, validation.Required, validation.Length(1, 300)),
		validation.Field(&p.Price, validation.Min(0)),
		validation.Field(&p.Status, validation.In("available", "reserved", "sold", "rented")),
	)
}

// Contact is a person or company the office deals with.
type Contact struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
	Role  string `json:"role"`
}

func (c *Contact) normalize() {
	c.Name = strings.TrimSpace(c.Name)
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	if c.Role == "" {
		c.Role = "other"
	}
}

func (c *Contact) label() string {
	if c.Email == "" {
		return c.Name
	}
	return c.Name + " <" + c.Email + ">"
}

// Validate checks the contact invariants.
func (c *Contact) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&c.Email, validation.Match(emailRe)),
		validation.Field(&c.Phone, validation.Length(0, 40)),
		validation.Field(&c.Role, validation.In("owner", "buyer", "tenant", "agent", "investor", "other")),
	)
}

// Memo is a free-form Markdown note. Title and tags are derived from the body
// when absent.
type Memo struct {
	Title      string   `json:"title"`
	Body       string   `json:"body"`
	Tags       []string `json:"tags,omitempty"`
	References []string `json:"references,omitempty"`
}

func (m *Memo) normalize() {
	parsed := parser.Parse([]byte(m.Body))
	if strings.TrimSpace(m.Title) == "" {
		m.Title = parsed.Title
	}
	m.Title = strings.TrimSpace(m.Title)
	if len(m.Tags) == 0 {
		m.Tags = parsed.Tags
	}
	m.References = nil
	for _, r := range parsed.Refs {
		m.References = append(m.References, r.Kind+":"+r.ID)
	}
}

func (m *Memo) label() string { return m.Title }

// Validate checks the memo invariants.
func (m *Memo) Validate() error {
	return validation.ValidateStruct(m,
		validation.Field(&m.Body, validation.Required),
		validation.Field(&m.Title, validation.Required, validation.Length(1, 200)),
	)
}

// Payment is an amount due or received.
type Payment struct {
	Reference string `json:"reference"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Due       string `json:"due"`
	Status    string `json:"status"`
}

func (p *Payment) normalize() {
	p.Reference = strings.TrimSpace(p.Reference)
	p.Currency = strings.ToUpper(p.Currency)
	if p.Status == "" {
		p.Status = "pending"
	}
}

func (p *Payment) label() string {
	return p.Reference + " (" + formatMoney(p.Amount, p.Currency) + ")"
}

// Validate checks the payment invariants.
func (p *Payment) Validate() error {
	return validation.ValidateStruct(p,
		validation.Field(&p.Reference, validation.Required, validation.Length(1, 120)),
		validation.Field(&p.Amount, validation.Required, validation.Min(1)),
		validation.Field(&p.Currency, validation.Required, validation.Match(currencyRe)),
		validation.Field(&p.Due, validation.Required, validation.Date(dateLayout)),
		validation.Field(&p.Status, validation.In("pending", "paid", "overdue")),
	)
}

// Sale is a transaction selling a property.
type Sale struct {
	Title    string `json:"title"`
	Price    int64  `json:"price"`
	Currency string `json:"currency"`
	ClosedOn string `json:"closed_on,omitempty"`
	Status   string `json:"status"`
}

func (s *Sale) normalize() {
	s.Title = strings.TrimSpace(s.Title)
	s.Currency = strings.ToUpper(s.Currency)
	if s.Status == "" {
		s.Status = "open"
	}
}

func (s *Sale) label() string { return s.Title }

// Validate checks the sale invariants.
func (s *Sale) Validate() error {
	return validation.ValidateStruct(s,
		validation.Field(&s.Title, validation.Required, validation.Length(1, 200)),
		validation.Field(&s.Price, validation.Required, validation.Min(1)),
		validation.Field(&s.Currency, validation.Required, validation.Match(currencyRe)),
		validation.Field(&s.ClosedOn, validation.Date(dateLayout)),
		validation.Field(&s.Status, validation.In("open", "closed", "cancelled")),
	)
}

// Investment is capital placed into one or more properties.
type Investment struct {
	Name      string `json:"name"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	StartedOn string `json:"started_on"`
}

func (i *Investment) normalize() {
	i.Name = strings.TrimSpace(i.Name)
	i.Currency = strings.ToUpper(i.Currency)
}

func (i *Investment) label() string { return i.Name }

// Validate checks the investment invariants.
func (i *Investment) Validate() error {
	return validation.ValidateStruct(i,
		validation.Field(&i.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&i.Amount, validation.Required, validation.Min(1)),
		validation.Field(&i.Currency, validation.Required, validation.Match(currencyRe)),
		validation.Field(&i.StartedOn, validation.Required, validation.Date(dateLayout)),
	)
}

// Expense is a cost incurred by the office or on a property.
type Expense struct {
	Description string `json:"description"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Category    string `json:"category,omitempty"`
	IncurredOn  string `json:"incurred_on"`
}

func (e *Expense) normalize() {
	e.Description = strings.TrimSpace(e.Description)
	e.Currency = strings.ToUpper(e.Currency)
}

func (e *Expense) label() string {
	return e.Description + " (" + formatMoney(e.Amount, e.Currency) + ")"
}

// Validate checks the expense invariants.
func (e *Expense) Validate() error {
	return validation.ValidateStruct(e,
		validation.Field(&e.Description, validation.Required, validation.Length(1, 300)),
		validation.Field(&e.Amount, validation.Required, validation.Min(1)),
		validation.Field(&e.Currency, validation.Required, validation.Match(currencyRe)),
		validation.Field(&e.Category, validation.Length(0, 60)),
		validation.Field(&e.IncurredOn, validation.Required, validation.Date(dateLayout)),
	)
}

// Attachment describes a stored file.
type Attachment struct {
	Filename    string `json:"filename"`
	Size        int64  `json:"size"`
	Checksum    string `json:"checksum"`
	ContentType string `json:"content_type,omitempty"`
}

func (a *Attachment) normalize() {}

func (a *Attachment) label() string { return a.Filename }

// Validate checks the attachment invariants.
func (a *Attachment) Validate() error {
	return validation.ValidateStruct(a,
		validation.Field(&a.Filename, validation.Required, validation.Length(1, 255), validation.Match(filenameRe)),
		validation.Field(&a.Size, validation.Min(0)),
	)
}
