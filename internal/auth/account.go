// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"net/mail"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
)

// Role is an account's authorization role.
type Role string

// Job-board roles.
const (
	RoleEmployer Role = "employer"
	RoleUser     Role = "user"
	RoleAdmin    Role = "admin"
)

// Rental roles.
const (
	RoleTenant   Role = "tenant"
	RoleLandlord Role = "landlord"
)

// Status is the soft active/inactive flag of an account.
type Status string

// Account statuses.
const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusActive || s == StatusInactive
}

// Field limits.
const (
	MinFirstNameLength = 3
	MaxFirstNameLength = 20
	MaxLastNameLength  = 20
	MaxCompanyLength   = 40
	MaxEmailLength     = 254
)

// RoleSet describes the roles of one deployment variant.
type RoleSet struct {
	Name string
	// Registrable lists roles a user may pick at registration.
	Registrable []Role
	// Default is used when registration omits the role.
	Default Role
	// All lists every role, including ones assigned administratively.
	All []Role
	// ProfileRole requires a company name when registering.
	ProfileRole Role
}

// JobBoardRoles is the employer/user/admin variant.
var JobBoardRoles = RoleSet{
	Name:        "jobboard",
	Registrable: []Role{RoleEmployer, RoleUser},
	Default:     RoleUser,
	All:         []Role{RoleEmployer, RoleUser, RoleAdmin},
	ProfileRole: RoleEmployer,
}

// RentalRoles is the tenant/landlord variant.
var RentalRoles = RoleSet{
	Name:        "rental",
	Registrable: []Role{RoleTenant, RoleLandlord},
	Default:     RoleTenant,
	All:         []Role{RoleTenant, RoleLandlord},
}

// RoleSetByName returns the variant with the given name.
func RoleSetByName(name string) (RoleSet, bool) {
	switch name {
	case JobBoardRoles.Name:
		return JobBoardRoles, true
	case RentalRoles.Name:
		return RentalRoles, true
	default:
		return RoleSet{}, false
	}
}

// Has reports whether r is one of the variant's roles.
func (rs RoleSet) Has(r Role) bool {
	return slices.Contains(rs.All, r)
}

// Account is a registered identity with its challenge state.
// Digests are stored; raw secrets never are.
type Account struct {
	ID           ulid.ULID
	Email        string
	FirstName    string
	LastName     string
	ContactNo    string
	CompanyName  string
	Role         Role
	Status       Status
	PasswordHash string

	Verified              bool
	VerifiedAt            *time.Time
	VerificationDigest    string
	VerificationExpiresAt *time.Time
	ResetDigest           string
	ResetExpiresAt        *time.Time

	ProfileImageKey string
	ResumeKey       string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasPendingReset reports whether an unexpired reset challenge exists at now.
func (a *Account) HasPendingReset(now time.Time) bool {
	return a.ResetDigest != "" && a.ResetExpiresAt != nil && now.Before(*a.ResetExpiresAt)
}

// AssetKeys returns the external asset references owned by the account.
func (a *Account) AssetKeys() []string {
	var keys []string
	if a.ProfileImageKey != "" {
		keys = append(keys, a.ProfileImageKey)
	}
	if a.ResumeKey != "" {
		keys = append(keys, a.ResumeKey)
	}
	return keys
}

// DisplayName returns the name used in outbound messages.
func (a *Account) DisplayName() string {
	return strings.TrimSpace(a.FirstName + " " + a.LastName)
}

// RoleProfile carries role-specific registration fields.
type RoleProfile interface {
	roleProfile()
}

// EmployerProfile is required for roles that represent a company.
type EmployerProfile struct {
	CompanyName string
}

// MemberProfile carries no extra fields.
type MemberProfile struct{}

func (EmployerProfile) roleProfile() {}
func (MemberProfile) roleProfile()   {}

// RegistrationInput is the unvalidated registration payload.
type RegistrationInput struct {
	Email       string
	Password    string
	FirstName   string
	LastName    string
	ContactNo   string
	Role        string
	CompanyName string
}

// Registration is a validated registration. Construct with NewRegistration.
type Registration struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	ContactNo string
	Role      Role
	Profile   RoleProfile
}

// NewRegistration validates in against the role variant. Roles that do
// not carry a company have the field stripped.
func NewRegistration(in RegistrationInput, roles RoleSet) (Registration, error) {
	email, err := NormalizeEmail(in.Email)
	if err != nil {
		return Registration{}, err
	}
	if in.Password == "" || strings.TrimSpace(in.FirstName) == "" {
		return Registration{}, badRequest("ACCOUNT_MISSING_FIELDS", "Please provide all fields")
	}

	role := Role(strings.TrimSpace(in.Role))
	if role == "" {
		role = roles.Default
	}
	if !slices.Contains(roles.Registrable, role) {
		return Registration{}, badRequest("ACCOUNT_INVALID_ROLE", "Please provide a valid role")
	}

	firstName, lastName, contactNo, err := validateNames(in.FirstName, in.LastName, in.ContactNo)
	if err != nil {
		return Registration{}, err
	}

	var profile RoleProfile = MemberProfile{}
	if roles.ProfileRole != "" && role == roles.ProfileRole {
		company, err := validateCompany(in.CompanyName)
		if err != nil {
			return Registration{}, err
		}
		profile = EmployerProfile{CompanyName: company}
	}

	return Registration{
		Email:     email,
		Password:  in.Password,
		FirstName: firstName,
		LastName:  lastName,
		ContactNo: contactNo,
		Role:      role,
		Profile:   profile,
	}, nil
}

// ProfileUpdate is a partial profile change. Nil fields are left alone.
// Email is immutable and deliberately absent.
type ProfileUpdate struct {
	FirstName   *string
	LastName    *string
	ContactNo   *string
	CompanyName *string
}

// Apply validates the update against the account's role and writes it to a.
func (u ProfileUpdate) Apply(a *Account, roles RoleSet) error {
	first, last, contact := a.FirstName, a.LastName, a.ContactNo
	if u.FirstName != nil {
		first = *u.FirstName
	}
	if u.LastName != nil {
		last = *u.LastName
	}
	if u.ContactNo != nil {
		contact = *u.ContactNo
	}
	first, last, contact, err := validateNames(first, last, contact)
	if err != nil {
		return err
	}

	company := ""
	if roles.ProfileRole != "" && a.Role == roles.ProfileRole {
		company = a.CompanyName
		if u.CompanyName != nil {
			company = *u.CompanyName
		}
		if company, err = validateCompany(company); err != nil {
			return err
		}
	}

	a.FirstName, a.LastName, a.ContactNo, a.CompanyName = first, last, contact, company
	return nil
}

// NormalizeEmail trims, lowercases and validates an email address.
func NormalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", badRequest("ACCOUNT_MISSING_FIELDS", "Please provide all fields")
	}
	if len(email) > MaxEmailLength {
		return "", badRequest("ACCOUNT_INVALID_EMAIL", "Please provide valid email")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", badRequest("ACCOUNT_INVALID_EMAIL", "Please provide valid email")
	}
	return email, nil
}

func validateNames(first, last, contact string) (string, string, string, error) {
	first = strings.TrimSpace(first)
	last = strings.TrimSpace(last)
	contact = strings.TrimSpace(contact)
	if n := utf8.RuneCountInString(first); n < MinFirstNameLength || n > MaxFirstNameLength {
		return "", "", "", badRequest("ACCOUNT_INVALID_NAME", "First name must be between 3 and 20 characters")
	}
	if utf8.RuneCountInString(last) > MaxLastNameLength {
		return "", "", "", badRequest("ACCOUNT_INVALID_NAME", "Last name can not be more than 20 characters")
	}
	for _, r := range contact {
		if (r < '0' || r > '9') && r != '+' && r != ' ' && r != '-' {
			return "", "", "", badRequest("ACCOUNT_INVALID_CONTACT", "Please provide valid contact number")
		}
	}
	return first, last, contact, nil
}

func validateCompany(company string) (string, error) {
	company = strings.TrimSpace(company)
	if company == "" {
		return "", badRequest("ACCOUNT_COMPANY_REQUIRED", "Please provide company name")
	}
	if utf8.RuneCountInString(company) > MaxCompanyLength {
		return "", badRequest("ACCOUNT_INVALID_COMPANY", "Company name can not be more than 40 characters")
	}
	return company, nil
}

// AccountRepository persists accounts. Every state transition is a single
// conditional write; a failed precondition returns an error wrapping
// ErrNotFound (or ErrConflict where noted) without modifying the row.
type AccountRepository interface {
	// Create stores a new account. Returns ErrConflict on a duplicate identity.
	Create(ctx context.Context, account *Account) error

	// GetByID retrieves an account by ID.
	GetByID(ctx context.Context, id ulid.ULID) (*Account, error)

	// GetByEmail retrieves an account by normalized email.
	GetByEmail(ctx context.Context, email string) (*Account, error)

	// MarkVerified flips an unverified account whose verification digest
	// equals digest (and has not expired at now) to verified.
	MarkVerified(ctx context.Context, id ulid.ULID, digest string, now time.Time) error

	// BeginReset stores a reset challenge unless an unexpired one is pending
	// at now, in which case it returns ErrConflict.
	BeginReset(ctx context.Context, id ulid.ULID, digest string, expiresAt, now time.Time) error

	// CompleteReset replaces the password hash and clears the reset challenge
	// when digest matches and has not expired at now.
	CompleteReset(ctx context.Context, id ulid.ULID, digest, passwordHash string, now time.Time) error

	// ClearExpiredReset removes the reset challenge only while it still
	// carries digest and has expired at now. Otherwise it returns ErrNotFound
	// and leaves the account untouched.
	ClearExpiredReset(ctx context.Context, id ulid.ULID, digest string, now time.Time) error

	// UpdatePasswordHash replaces the stored password hash.
	UpdatePasswordHash(ctx context.Context, id ulid.ULID, passwordHash string) error

	// UpdateProfile writes name, contact and company fields.
	UpdateProfile(ctx context.Context, account *Account) error

	// SetStatus changes the active/inactive flag.
	SetStatus(ctx context.Context, id ulid.ULID, status Status) error

	// Delete removes an account.
	Delete(ctx context.Context, id ulid.ULID) error
}
