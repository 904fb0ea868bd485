// Package reconcile synchronizes a contact's linked accounts in the CRM with
// the set the portal says it should have.
//
// A contact's effective links are {primary account} ∪ {accounts with an
// AccountContactRelation row}. The primary link lives on the contact's
// AccountId foreign key and is never represented by a deletable relation
// row, so it can never be removed through this path.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"

	"crmbridge/api/internal/crm"
)

// Mode selects how the primary-account field is interpreted.
type Mode string

const (
	// ModeSetup treats the primary account and managed accounts as literal
	// items. Used for the one-time portal signup bootstrap.
	ModeSetup Mode = "setup"
	// ModeUpdate treats the primary-account field as a comma-delimited list
	// of account names, and also refreshes the contact's name fields.
	ModeUpdate Mode = "update"
)

// AccountNotFoundError reports a desired account name with no CRM record.
// Resolution is all-or-nothing: one unknown name aborts the whole sync
// before any mutation.
type AccountNotFoundError struct {
	Name string
}

func (e *AccountNotFoundError) Error() string {
	return fmt.Sprintf("account not found: %s", e.Name)
}

// Gateway is the slice of CRM operations the reconciler needs.
type Gateway interface {
	FindAccountIDByName(ctx context.Context, name string) (string, error)
	FindContactByEmail(ctx context.Context, email string) (crm.Contact, error)
	CreateContact(ctx context.Context, fields crm.ContactFields) (string, error)
	UpdateContact(ctx context.Context, contactID, firstName, lastName string) error
	ListRelationsForContact(ctx context.Context, contactID string) ([]crm.Relation, error)
	CreateRelation(ctx context.Context, contactID, accountID string) (string, error)
	DeleteRelation(ctx context.Context, relationID string) error
}

// Input describes one contact sync request.
type Input struct {
	Email          string
	FirstName      string
	LastName       string
	PrimaryAccount string
	// ManagedAccounts lists additional site names; only read in setup mode.
	ManagedAccounts []string
	Mode            Mode
}

// Result reports what the sync did.
type Result struct {
	ContactID      string
	ContactCreated bool
	Added          []string
	Removed        []string
}

type Reconciler struct {
	gateway Gateway
}

func New(gateway Gateway) *Reconciler {
	return &Reconciler{gateway: gateway}
}

// Reconcile makes the contact's effective linked-account set equal the
// desired set and returns the contact id. Name resolution is all-or-nothing;
// individual relation writes are best-effort. Callers must serialize
// concurrent syncs for the same email themselves; there is no concurrency
// check on the read/compute/apply sequence.
func (r *Reconciler) Reconcile(ctx context.Context, in Input) (Result, error) {
	names := desiredNames(in)
	if len(names) == 0 {
		return Result{}, fmt.Errorf("no account names provided")
	}

	// Step 1: resolve every name before touching anything.
	seen := make(map[string]struct{}, len(names))
	orderedIDs := make([]string, 0, len(names))
	for _, name := range names {
		id, err := r.gateway.FindAccountIDByName(ctx, name)
		if errors.Is(err, crm.ErrNotFound) {
			return Result{}, &AccountNotFoundError{Name: name}
		}
		if err != nil {
			return Result{}, fmt.Errorf("resolve account %q: %w", name, err)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		orderedIDs = append(orderedIDs, id)
	}
	primaryID := orderedIDs[0]

	// Step 2: get or create the contact.
	result := Result{}
	contact, err := r.gateway.FindContactByEmail(ctx, in.Email)
	switch {
	case errors.Is(err, crm.ErrNotFound):
		contactID, createErr := r.gateway.CreateContact(ctx, crm.ContactFields{
			FirstName:        in.FirstName,
			LastName:         in.LastName,
			Email:            in.Email,
			PrimaryAccountID: primaryID,
		})
		if createErr != nil {
			return Result{}, fmt.Errorf("create contact: %w", createErr)
		}
		contact = crm.Contact{ID: contactID, PrimaryAccountID: primaryID}
		result.ContactCreated = true
	case err != nil:
		return Result{}, fmt.Errorf("find contact: %w", err)
	default:
		// Profile edits only flow through update mode; setup is a one-time
		// bootstrap and leaves the stored name alone.
		if in.Mode != ModeSetup {
			if err := r.gateway.UpdateContact(ctx, contact.ID, in.FirstName, in.LastName); err != nil {
				return Result{}, fmt.Errorf("update contact: %w", err)
			}
		}
	}
	result.ContactID = contact.ID

	// Step 3: map existing links. The current primary account joins the map
	// with an empty relation id: it is owned by the contact's AccountId
	// foreign key and must never be deleted as a relation.
	relations, err := r.gateway.ListRelationsForContact(ctx, contact.ID)
	if err != nil {
		return Result{}, fmt.Errorf("list relations: %w", err)
	}
	existing := make(map[string]string, len(relations)+1)
	for _, rel := range relations {
		existing[rel.AccountID] = rel.ID
	}
	if contact.PrimaryAccountID != "" {
		existing[contact.PrimaryAccountID] = ""
	}

	desired := make(map[string]struct{}, len(orderedIDs))
	for _, id := range orderedIDs {
		desired[id] = struct{}{}
	}

	// Step 4/5: apply the diff. Each relation write failure is logged and
	// skipped so one bad row does not strand the rest.
	for _, accountID := range orderedIDs {
		if _, ok := existing[accountID]; ok {
			continue
		}
		if _, err := r.gateway.CreateRelation(ctx, contact.ID, accountID); err != nil {
			log.Printf("link %s to account %s failed: %v", in.Email, accountID, err)
			continue
		}
		result.Added = append(result.Added, accountID)
	}

	stale := make([]string, 0)
	for accountID, relationID := range existing {
		if _, ok := desired[accountID]; ok {
			continue
		}
		if relationID == "" {
			// primary link, not removable here
			continue
		}
		stale = append(stale, accountID)
	}
	sort.Strings(stale)
	for _, accountID := range stale {
		if err := r.gateway.DeleteRelation(ctx, existing[accountID]); err != nil {
			log.Printf("unlink %s from account %s failed: %v", in.Email, accountID, err)
			continue
		}
		result.Removed = append(result.Removed, accountID)
	}

	return result, nil
}

// desiredNames expands the input into the list of account names to resolve,
// primary first. Blank entries are dropped.
func desiredNames(in Input) []string {
	var raw []string
	if in.Mode == ModeSetup {
		raw = append([]string{in.PrimaryAccount}, in.ManagedAccounts...)
	} else {
		raw = strings.Split(in.PrimaryAccount, ",")
	}

	names := make([]string, 0, len(raw))
	for _, name := range raw {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		names = append(names, name)
	}
	return names
}
