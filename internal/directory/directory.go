// Package directory provides the in-process customer directory used for KYC lookups.
package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/BTreeMap/LoanPipe/internal/models"
)

var (
	ErrEmptyPhone     = errors.New("customer phone cannot be empty")
	ErrCustomerExists = errors.New("customer with this phone already exists")
)

// customerIDBase is the numeric offset for generated ids ("TC1001", "TC1002", ...).
const customerIDBase = 1001

// InMemoryDirectory is a mutex-protected customer table keyed by phone.
type InMemoryDirectory struct {
	mu        sync.RWMutex
	customers map[string]models.Customer
}

// NewInMemoryDirectory returns a directory seeded with the demo customers.
func NewInMemoryDirectory() *InMemoryDirectory {
	d := &InMemoryDirectory{customers: make(map[string]models.Customer, len(seedCustomers))}
	for _, c := range seedCustomers {
		d.customers[c.Phone] = c
	}
	slog.Debug("InMemoryDirectory created", "customers", len(d.customers))
	return d
}

// NewEmptyDirectory returns a directory with no customers.
func NewEmptyDirectory() *InMemoryDirectory {
	return &InMemoryDirectory{customers: make(map[string]models.Customer)}
}

// LookupByPhone returns the customer for phone, or nil when none is on file.
func (d *InMemoryDirectory) LookupByPhone(ctx context.Context, phone string) (*models.Customer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.RLock()
	c, ok := d.customers[phone]
	d.mu.RUnlock()
	if !ok {
		slog.Debug("InMemoryDirectory.LookupByPhone: not found", "phone", phone)
		return nil, nil
	}
	c.ExistingLoans = append([]string(nil), c.ExistingLoans...)
	return &c, nil
}

// Create registers a new customer and returns its id. An empty CustomerID is
// assigned from the current table size.
func (d *InMemoryDirectory) Create(ctx context.Context, c models.Customer) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if c.Phone == "" {
		return "", ErrEmptyPhone
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.customers[c.Phone]; exists {
		return "", fmt.Errorf("%w: %s", ErrCustomerExists, c.Phone)
	}
	if c.CustomerID == "" {
		c.CustomerID = fmt.Sprintf("TC%d", len(d.customers)+customerIDBase)
	}
	c.ExistingLoans = append([]string(nil), c.ExistingLoans...)
	d.customers[c.Phone] = c

	slog.Info("InMemoryDirectory.Create: customer registered", "customerID", c.CustomerID, "phone", c.Phone)
	return c.CustomerID, nil
}

// Len returns the number of customers on file.
func (d *InMemoryDirectory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.customers)
}

var seedCustomers = []models.Customer{
	{CustomerID: "TC1001", Name: "Rahul Sharma", Phone: "9876543210", Age: 32, City: "Bangalore", CreditScore: 780, PreapprovedLimit: 500000, Salary: 80000, ExistingLoans: []string{"Car Loan"}},
	{CustomerID: "TC1002", Name: "Priya Patel", Phone: "9876543211", Age: 28, City: "Mumbai", CreditScore: 720, PreapprovedLimit: 300000, Salary: 60000},
	{CustomerID: "TC1003", Name: "Amit Kumar", Phone: "9876543212", Age: 35, City: "Delhi", CreditScore: 650, PreapprovedLimit: 200000, Salary: 45000, ExistingLoans: []string{"Personal Loan"}},
	{CustomerID: "TC1004", Name: "Sneha Reddy", Phone: "9876543213", Age: 30, City: "Hyderabad", CreditScore: 800, PreapprovedLimit: 800000, Salary: 120000},
	{CustomerID: "TC1005", Name: "Vikram Singh", Phone: "9876543214", Age: 40, City: "Pune", CreditScore: 690, PreapprovedLimit: 250000, Salary: 55000, ExistingLoans: []string{"Home Loan"}},
	{CustomerID: "TC1006", Name: "Anita Gupta", Phone: "9876543215", Age: 26, City: "Chennai", CreditScore: 750, PreapprovedLimit: 400000, Salary: 70000},
	{CustomerID: "TC1007", Name: "Rajesh Agarwal", Phone: "9876543216", Age: 45, City: "Kolkata", CreditScore: 680, PreapprovedLimit: 150000, Salary: 40000, ExistingLoans: []string{"Car Loan", "Personal Loan"}},
	{CustomerID: "TC1008", Name: "Deepika Joshi", Phone: "9876543217", Age: 29, City: "Ahmedabad", CreditScore: 770, PreapprovedLimit: 600000, Salary: 95000},
	{CustomerID: "TC1009", Name: "Suresh Nair", Phone: "9876543218", Age: 38, City: "Kochi", CreditScore: 710, PreapprovedLimit: 350000, Salary: 65000, ExistingLoans: []string{"Home Loan"}},
	{CustomerID: "TC1010", Name: "Kavya Iyer", Phone: "9876543219", Age: 31, City: "Bangalore", CreditScore: 790, PreapprovedLimit: 700000, Salary: 110000},
}
